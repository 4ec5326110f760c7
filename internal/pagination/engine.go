// Package pagination loads conversation history in cursor-addressed pages.
package pagination

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/internal/resolver"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
	"github.com/capitalize-ai/chatdesk/pkg/metrics"
)

// IDLister lists document ids of a conversation, oldest-first within the
// returned window. An empty beforeID selects the newest window.
type IDLister interface {
	ListDocumentIDs(ctx context.Context, conversationID, beforeID string, limit int) ([]string, error)
}

// Page is one ordered window of history.
type Page struct {
	// IDs is the id window as listed, oldest-first.
	IDs []string
	// Messages holds the resolved documents in IDs order. Unresolved ids
	// are absent.
	Messages []model.Message
	// HasMore is true when the window was full.
	HasMore bool
}

// Cursor returns the oldest listed id, the cursor for the next older page.
func (p *Page) Cursor() string {
	if p == nil || len(p.IDs) == 0 {
		return ""
	}
	return p.IDs[0]
}

// Engine converts cursors into pages.
type Engine struct {
	ids      IDLister
	resolver *resolver.Resolver
	logger   *logger.Logger
}

// NewEngine creates a pagination engine.
func NewEngine(ids IDLister, res *resolver.Resolver, log *logger.Logger) *Engine {
	return &Engine{
		ids:      ids,
		resolver: res,
		logger:   log,
	}
}

// LoadLatest returns the newest page of a conversation.
func (e *Engine) LoadLatest(ctx context.Context, conversationID string, pageSize int) (*Page, error) {
	return e.load(ctx, "latest", conversationID, "", pageSize)
}

// LoadOlder returns the page strictly older than beforeID.
func (e *Engine) LoadOlder(ctx context.Context, conversationID, beforeID string, pageSize int) (*Page, error) {
	if beforeID == "" {
		return nil, fmt.Errorf("load older: empty cursor")
	}
	return e.load(ctx, "older", conversationID, beforeID, pageSize)
}

// LatestIDs lists the newest id window without resolving it.
func (e *Engine) LatestIDs(ctx context.Context, conversationID string, pageSize int) ([]string, error) {
	metrics.PaginationFetchesTotal.WithLabelValues("reconcile").Inc()
	ids, err := e.ids.ListDocumentIDs(ctx, conversationID, "", pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest ids: %w", err)
	}
	return ids, nil
}

// Resolve turns an id window into a page.
func (e *Engine) Resolve(ctx context.Context, ids []string, pageSize int) *Page {
	docs := e.resolver.Resolve(ctx, ids)
	msgs := make([]model.Message, 0, len(docs))
	for _, doc := range docs {
		msgs = append(msgs, doc.Message())
	}
	return &Page{
		IDs:      ids,
		Messages: msgs,
		HasMore:  len(ids) == pageSize,
	}
}

// Walk visits the whole history newest page first, following the cursor
// until a short page. It returns the number of id-window fetches made.
func (e *Engine) Walk(ctx context.Context, conversationID string, pageSize int, fn func(*Page) error) (int, error) {
	if pageSize <= 0 {
		return 0, fmt.Errorf("walk: page size must be positive")
	}

	fetches := 0
	cursor := ""
	for {
		page, err := e.load(ctx, "walk", conversationID, cursor, pageSize)
		fetches++
		if err != nil {
			return fetches, err
		}
		if err := fn(page); err != nil {
			return fetches, err
		}
		if !page.HasMore || page.Cursor() == "" {
			return fetches, nil
		}
		cursor = page.Cursor()
	}
}

func (e *Engine) load(ctx context.Context, kind, conversationID, beforeID string, pageSize int) (*Page, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("load %s: empty conversation id", kind)
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("load %s: page size must be positive", kind)
	}

	metrics.PaginationFetchesTotal.WithLabelValues(kind).Inc()
	ids, err := e.ids.ListDocumentIDs(ctx, conversationID, beforeID, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s page: %w", kind, err)
	}

	page := e.Resolve(ctx, ids, pageSize)
	e.logger.Debug("page loaded",
		zap.String("kind", kind),
		zap.String("conversation_id", conversationID),
		zap.String("before_id", beforeID),
		zap.Int("ids", len(ids)),
		zap.Int("resolved", len(page.Messages)),
		zap.Bool("has_more", page.HasMore),
	)
	return page, nil
}
