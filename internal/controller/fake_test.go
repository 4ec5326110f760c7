package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatdesk/internal/clock"
	"github.com/capitalize-ai/chatdesk/internal/events"
	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/internal/pagination"
	"github.com/capitalize-ai/chatdesk/internal/resolver"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

const defaultTitle = "新对话"

type replyFunc func(ctx context.Context) (io.ReadCloser, error)

// backend is an in-memory conversation backend.
type backend struct {
	mu sync.Mutex

	convs    []model.Conversation
	history  map[string][]string
	docs     map[string]model.Document
	nextConv int

	replies []replyFunc
	title   string
	titleIn [][]string
	renames map[string]string

	listConversationCalls int
	idCalls               map[string]int
	// olderGate blocks cursor-based id listings until closed.
	olderGate chan struct{}
	// listGates holds the Nth conversation listing after it has read the
	// list, until the gate is closed.
	listGates map[int]chan struct{}
	// createGate blocks CreateConversation until closed.
	createGate  chan struct{}
	createCalls int
}

func newBackend() *backend {
	return &backend{
		history: make(map[string][]string),
		docs:    make(map[string]model.Document),
		title:   "Generated title",
		renames: make(map[string]string),
		idCalls: make(map[string]int),
		listGates: make(map[int]chan struct{}),
	}
}

// addConversation adds a conversation with n messages alternating user and
// assistant, starting with a user turn.
func (b *backend) addConversation(id, title string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.convs = append(b.convs, model.Conversation{ID: id, Title: title})
	for i := 1; i <= n; i++ {
		role := model.RoleAssistant
		if i%2 == 1 {
			role = model.RoleUser
		}
		b.appendDocLocked(id, role, fmt.Sprintf("%s message %d", id, i))
	}
}

func (b *backend) appendDoc(convID string, role model.Role, content string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendDocLocked(convID, role, content)
}

func (b *backend) appendDocLocked(convID string, role model.Role, content string) string {
	id := fmt.Sprintf("%s-%d", convID, len(b.history[convID])+1)
	b.history[convID] = append(b.history[convID], id)
	b.docs[id] = model.Document{ID: id, Role: role, Content: content}
	return id
}

func (b *backend) queueReply(f replyFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies = append(b.replies, f)
}

func (b *backend) ListDocumentIDs(ctx context.Context, conversationID, beforeID string, limit int) ([]string, error) {
	b.mu.Lock()
	gate := b.olderGate
	b.mu.Unlock()
	if gate != nil && beforeID != "" {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	kind := "latest"
	if beforeID != "" {
		kind = "older"
	}
	b.idCalls[kind]++

	ids := b.history[conversationID]
	end := len(ids)
	if beforeID != "" {
		end = -1
		for i, id := range ids {
			if id == beforeID {
				end = i
			}
		}
		if end < 0 {
			return nil, errors.New("unknown cursor")
		}
	}
	start := max(end-limit, 0)
	return append([]string(nil), ids[start:end]...), nil
}

func (b *backend) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.docs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &doc, nil
}

func (b *backend) ListConversations(ctx context.Context, page, pageSize int) ([]model.Conversation, error) {
	b.mu.Lock()
	b.listConversationCalls++
	out := append([]model.Conversation(nil), b.convs...)
	gate := b.listGates[b.listConversationCalls]
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (b *backend) CreateConversation(ctx context.Context) (*model.Conversation, error) {
	b.mu.Lock()
	b.createCalls++
	gate := b.createGate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextConv++
	conv := model.Conversation{ID: fmt.Sprintf("new-%d", b.nextConv), Title: defaultTitle}
	b.convs = append([]model.Conversation{conv}, b.convs...)
	return &conv, nil
}

func (b *backend) RenameConversation(ctx context.Context, id, title string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.convs {
		if b.convs[i].ID == id {
			b.convs[i].Title = title
			b.renames[id] = title
			return nil
		}
	}
	return errors.New("not found")
}

func (b *backend) DeleteConversation(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.convs {
		if b.convs[i].ID == id {
			b.convs = append(b.convs[:i:i], b.convs[i+1:]...)
			return nil
		}
	}
	return errors.New("not found")
}

func (b *backend) SendChat(ctx context.Context, conversationID, modelID, text string) (io.ReadCloser, error) {
	b.mu.Lock()
	if len(b.replies) == 0 {
		b.mu.Unlock()
		return io.NopCloser(&chunks{parts: []string{"ok"}}), nil
	}
	f := b.replies[0]
	b.replies = b.replies[1:]
	b.mu.Unlock()
	return f(ctx)
}

func (b *backend) GenerateTitle(ctx context.Context, userTexts []string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.titleIn = append(b.titleIn, userTexts)
	return b.title, nil
}

func (b *backend) ListModels(ctx context.Context) ([]model.ChatModel, error) {
	return []model.ChatModel{{ID: "m1", Name: "Model One"}, {ID: "m2", Name: "Model Two"}}, nil
}

func (b *backend) conversationListCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listConversationCalls
}

func (b *backend) createCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createCalls
}

func (b *backend) idCallCount(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.idCalls[kind]
}

// chunks yields one part per Read.
type chunks struct {
	parts []string
}

func (c *chunks) Read(p []byte) (int, error) {
	if len(c.parts) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.parts[0])
	c.parts = c.parts[1:]
	return n, nil
}

func chunkedReply(parts ...string) replyFunc {
	return func(ctx context.Context) (io.ReadCloser, error) {
		return io.NopCloser(&chunks{parts: parts}), nil
	}
}

// pipeReply hands the writing end to the test.
func pipeReply() (replyFunc, *io.PipeWriter) {
	pr, pw := io.Pipe()
	return func(ctx context.Context) (io.ReadCloser, error) { return pr, nil }, pw
}

type harness struct {
	ctrl  *Controller
	be    *backend
	clock *clock.Fake
}

func newHarness(t *testing.T, be *backend, tweak ...func(*Options)) *harness {
	t.Helper()
	log := logger.NewNop()
	opts := DefaultOptions()
	for _, f := range tweak {
		f(&opts)
	}
	clk := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	ctrl := New(Deps{
		Conversations: be,
		Chat:          be,
		Titler:        be,
		Models:        be,
		Pages:         pagination.NewEngine(be, resolver.New(be, 4, log), log),
		Clock:         clk,
		Hub:           events.NewHub(log),
	}, opts, log)
	t.Cleanup(ctrl.Close)
	return &harness{ctrl: ctrl, be: be, clock: clk}
}

func contents(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func tail(t *testing.T, c *Controller) model.Message {
	t.Helper()
	msgs := c.Snapshot().Messages
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}
