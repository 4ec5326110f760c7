// Package api is the HTTP client for the conversation backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

// ErrNotFound is matched by StatusError values carrying a 404.
var ErrNotFound = errors.New("not found")

// StatusError is returned for non-2xx backend replies.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 replies.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to the conversation backend.
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	logger  *logger.Logger
}

// NewClient creates a backend client. timeout bounds unary calls only;
// chat streams live as long as their context.
func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
		logger:  log,
	}
}

// ListModels returns the model catalogue.
func (c *Client) ListModels(ctx context.Context) ([]model.ChatModel, error) {
	var resp model.ListModelsResponse
	if err := c.do(ctx, http.MethodGet, "/api/models", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return resp.Models, nil
}

// ListConversations returns one page of conversations in server order.
func (c *Client) ListConversations(ctx context.Context, page, pageSize int) ([]model.Conversation, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	var resp model.ListConversationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/conversations?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return resp.Conversations, nil
}

// CreateConversation creates an untitled conversation.
func (c *Client) CreateConversation(ctx context.Context) (*model.Conversation, error) {
	var conv model.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations/new", nil, &conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	if conv.ID == "" {
		return nil, fmt.Errorf("failed to create conversation: empty id in reply")
	}
	return &conv, nil
}

// RenameConversation sets a conversation title.
func (c *Client) RenameConversation(ctx context.Context, id, title string) error {
	path := "/api/conversations/" + url.PathEscape(id) + "/title"
	if err := c.do(ctx, http.MethodPut, path, &model.RenameConversationRequest{Title: title}, nil); err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	return nil
}

// DeleteConversation deletes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// GenerateTitle asks the backend to title a conversation from its user turns.
func (c *Client) GenerateTitle(ctx context.Context, userTexts []string) (string, error) {
	var resp model.GenerateTitleResponse
	req := &model.GenerateTitleRequest{UserInputs: userTexts}
	if err := c.do(ctx, http.MethodPost, "/api/conversations/generate-title", req, &resp); err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}
	return resp.Title, nil
}

// ListDocumentIDs returns up to limit document ids of a conversation,
// oldest-first. With an empty beforeID the newest window is returned;
// otherwise the window immediately older than beforeID.
func (c *Client) ListDocumentIDs(ctx context.Context, conversationID, beforeID string, limit int) ([]string, error) {
	q := url.Values{}
	q.Set("conversation_id", conversationID)
	q.Set("limit", strconv.Itoa(limit))
	if beforeID != "" {
		q.Set("before_id", beforeID)
	}

	var resp model.DocumentIDsResponse
	if err := c.do(ctx, http.MethodGet, "/api/documents/ids?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list document ids: %w", err)
	}
	return resp.DocumentIDs, nil
}

// GetDocument fetches one document.
func (c *Client) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := c.do(ctx, http.MethodGet, "/api/documents/"+url.PathEscape(id), nil, &doc); err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return &doc, nil
}

// GetDocuments fetches several documents in one request. The reply may omit
// ids and is not guaranteed to follow the request order.
func (c *Client) GetDocuments(ctx context.Context, ids []string) ([]model.Document, error) {
	var resp model.DocumentListResponse
	req := &model.DocumentsByIDsRequest{DocumentIDs: ids}
	if err := c.do(ctx, http.MethodPost, "/api/documents/by-ids", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}
	return resp.Documents, nil
}

// SendChat posts one user turn and returns the streamed reply body.
// Cancelling ctx aborts the request and unblocks pending reads.
func (c *Client) SendChat(ctx context.Context, conversationID, modelID, text string) (io.ReadCloser, error) {
	body, err := json.Marshal(&model.ChatRequest{
		ConversationID: conversationID,
		Model:          modelID,
		Messages:       []model.ChatMessage{{Role: model.RoleUser, Content: text}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send chat: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("failed to send chat: %w", readStatusError(resp))
	}

	return resp.Body, nil
}

// ListStories returns the saved stories of a user guid.
func (c *Client) ListStories(ctx context.Context, guid string) ([]model.Story, error) {
	q := url.Values{}
	q.Set("guid", guid)

	var resp model.StoryListResponse
	if err := c.do(ctx, http.MethodGet, "/api/stories?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	return resp.Stories, nil
}

// CreateStory saves a story.
func (c *Client) CreateStory(ctx context.Context, req *model.CreateStoryRequest) (*model.Story, error) {
	var story model.Story
	if err := c.do(ctx, http.MethodPost, "/api/stories", req, &story); err != nil {
		return nil, fmt.Errorf("failed to create story: %w", err)
	}
	return &story, nil
}

// DeleteStory removes a story.
func (c *Client) DeleteStory(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/stories/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("failed to delete story: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("backend call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readStatusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode reply: %w", err)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}
