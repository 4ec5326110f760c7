package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the in-memory message list.
//
// Key is the display key. It is assigned once, either a client key for
// optimistic messages or the document id for messages loaded from history,
// and never changes afterwards. DocumentID is tracked separately and is
// filled in once the server id is known.
type Message struct {
	Key        string  `json:"key"`
	Role       Role    `json:"role"`
	Content    string  `json:"content"`
	DocumentID *string `json:"document_id,omitempty"`
	Streaming  bool    `json:"streaming,omitempty"`
	Failed     bool    `json:"failed,omitempty"`
}

// HasDocument reports whether the server id is known.
func (m Message) HasDocument() bool {
	return m.DocumentID != nil && *m.DocumentID != ""
}

// CursorID returns the id used as a pagination cursor for this message.
func (m Message) CursorID() string {
	if m.HasDocument() {
		return *m.DocumentID
	}
	return ""
}

// CanSave reports whether the message may be promoted to a saved story.
func (m Message) CanSave() bool {
	return m.Role == RoleAssistant && m.HasDocument() && !m.Streaming && !m.Failed
}

// Document is the server-persisted record backing one message.
type Document struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Message converts a resolved document into a list entry keyed by its id.
func (d Document) Message() Message {
	id := d.ID
	return Message{
		Key:        d.ID,
		Role:       d.Role,
		Content:    d.Content,
		DocumentID: &id,
	}
}

// DocumentIDsResponse is the backend reply for an id window.
type DocumentIDsResponse struct {
	DocumentIDs []string `json:"document_ids"`
}

// DocumentsByIDsRequest asks the backend for several documents at once.
type DocumentsByIDsRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

// DocumentListResponse is the backend reply carrying documents.
type DocumentListResponse struct {
	Documents []Document `json:"documents"`
	Total     int        `json:"total"`
}

// ChatRequest is the body of a streamed chat request.
type ChatRequest struct {
	ConversationID string        `json:"conversation_id"`
	Model          string        `json:"model"`
	Messages       []ChatMessage `json:"messages"`
}

// ChatMessage is one turn sent with a chat request.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StreamMetadata is the payload of the in-band metadata envelope.
type StreamMetadata struct {
	ConversationID string     `json:"conversation_id,omitempty"`
	DocumentID     DocumentID `json:"document_id"`
}

// DocumentID accepts a JSON string or number.
type DocumentID string

// UnmarshalJSON implements json.Unmarshaler.
func (d *DocumentID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*d = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = DocumentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*d = DocumentID(n.String())
	return nil
}
