package model

import (
	"time"
)

// ChangeKind names what caused a controller state change.
type ChangeKind string

const (
	// ChangeReload means the message list was replaced wholesale.
	ChangeReload ChangeKind = "reload"
	// ChangePrepend means an older page was prepended.
	ChangePrepend ChangeKind = "prepend"
	// ChangeLocalAppend means the local user appended a message.
	ChangeLocalAppend ChangeKind = "local_append"
	// ChangeStreamGrowth means a live reply grew.
	ChangeStreamGrowth ChangeKind = "stream_growth"
	// ChangeStreamDone means a live reply was finalized or failed.
	ChangeStreamDone ChangeKind = "stream_done"
	// ChangeConversations means the conversation list was refreshed.
	ChangeConversations ChangeKind = "conversations"
	// ChangeStatus covers flag-only changes (loading, models, selection).
	ChangeStatus ChangeKind = "status"
)

// Snapshot is an immutable copy of controller state. Slices are never
// mutated after a snapshot has been published.
type Snapshot struct {
	Revision             uint64         `json:"revision"`
	Epoch                uint64         `json:"epoch"`
	Change               ChangeKind     `json:"change"`
	ActiveConversationID string         `json:"active_conversation_id,omitempty"`
	Conversations        []Conversation `json:"conversations"`
	Messages             []Message      `json:"messages"`
	Models               []ChatModel    `json:"models,omitempty"`
	SelectedModel        string         `json:"selected_model,omitempty"`
	Loading              bool           `json:"loading"`
	LoadingOlder         bool           `json:"loading_older"`
	HasMore              bool           `json:"has_more"`
	ScrollToBottom       uint64         `json:"scroll_to_bottom"`
	LocalAppends         uint64         `json:"local_appends"`
	At                   time.Time      `json:"at"`
}

// ChangeEvent is the compact form of a snapshot published to the message bus.
type ChangeEvent struct {
	Revision       uint64     `json:"revision"`
	Epoch          uint64     `json:"epoch"`
	Change         ChangeKind `json:"change"`
	ConversationID string     `json:"conversation_id,omitempty"`
	MessageCount   int        `json:"message_count"`
	Loading        bool       `json:"loading"`
	HasMore        bool       `json:"has_more"`
	Tail           *Message   `json:"tail,omitempty"`
	At             time.Time  `json:"at"`
}

// Event returns the compact form of s.
func (s Snapshot) Event() ChangeEvent {
	ev := ChangeEvent{
		Revision:       s.Revision,
		Epoch:          s.Epoch,
		Change:         s.Change,
		ConversationID: s.ActiveConversationID,
		MessageCount:   len(s.Messages),
		Loading:        s.Loading,
		HasMore:        s.HasMore,
		At:             s.At,
	}
	if n := len(s.Messages); n > 0 {
		tail := s.Messages[n-1]
		ev.Tail = &tail
	}
	return ev
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent represents an error pushed to a subscriber.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
