package controller

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/internal/pagination"
	"github.com/capitalize-ai/chatdesk/pkg/metrics"
)

// LoadOlder prepends the page older than the oldest loaded message. It
// returns a nil page without fetching when there is nothing to load or a
// load is already outstanding.
func (c *Controller) LoadOlder(ctx context.Context) (*pagination.Page, error) {
	c.mu.Lock()
	if c.closed || c.activeID == "" || len(c.messages) == 0 || c.loadingOlder || !c.hasMore {
		c.mu.Unlock()
		return nil, nil
	}
	cursor := c.messages[0].CursorID()
	if cursor == "" {
		c.mu.Unlock()
		return nil, nil
	}
	convID := c.activeID
	epoch := c.epoch
	c.loadingOlder = true
	c.publishLocked(model.ChangeStatus)
	c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "controller.load_older")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation_id", convID),
		attribute.String("before_id", cursor),
	)

	page, err := c.deps.Pages.LoadOlder(ctx, convID, cursor, c.opts.HistoryPageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return nil, ErrSuperseded
	}
	c.loadingOlder = false
	if err != nil {
		span.RecordError(err)
		c.publishLocked(model.ChangeStatus)
		return nil, fmt.Errorf("failed to load older messages: %w", err)
	}

	msgs := make([]model.Message, 0, len(page.Messages)+len(c.messages))
	msgs = append(msgs, page.Messages...)
	msgs = append(msgs, c.messages...)
	c.messages = msgs
	c.hasMore = page.HasMore
	c.publishLocked(model.ChangePrepend)
	return page, nil
}

// AutoTitle walks the whole history of a conversation, asks for a title
// derived from its user turns and renames the conversation. It is best
// effort: failures are logged and reported only through ok.
func (c *Controller) AutoTitle(ctx context.Context, conversationID string) (title string, ok bool) {
	ctx, span := c.tracer.Start(ctx, "controller.auto_title")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conversationID))

	log := c.logger.WithConversation(conversationID)
	outcome := "ok"
	defer func() {
		metrics.TitleAttemptsTotal.WithLabelValues(outcome).Inc()
	}()

	if c.deps.Titler == nil {
		outcome = "disabled"
		return "", false
	}

	// Pages arrive newest first.
	var pages [][]string
	fetches, err := c.deps.Pages.Walk(ctx, conversationID, c.opts.TitlePageSize, func(p *pagination.Page) error {
		var texts []string
		for _, m := range p.Messages {
			if m.Role == model.RoleUser {
				texts = append(texts, m.Content)
			}
		}
		pages = append(pages, texts)
		return nil
	})
	if err != nil {
		outcome = "walk_error"
		log.Warn("auto-title history walk failed", zap.Int("fetches", fetches), zap.Error(err))
		return "", false
	}

	var userTexts []string
	for i := len(pages) - 1; i >= 0; i-- {
		userTexts = append(userTexts, pages[i]...)
	}
	if len(userTexts) == 0 {
		outcome = "empty"
		return "", false
	}

	title, err = c.deps.Titler.GenerateTitle(ctx, userTexts)
	if err != nil {
		outcome = "generate_error"
		log.Warn("title generation failed", zap.Error(err))
		return "", false
	}
	title = strings.TrimSpace(title)
	if title == "" {
		outcome = "empty"
		return "", false
	}

	if err := c.deps.Conversations.RenameConversation(ctx, conversationID, title); err != nil {
		outcome = "rename_error"
		log.Warn("auto-title rename failed", zap.Error(err))
		return "", false
	}
	log.Info("conversation auto-titled",
		zap.String("title", title),
		zap.Int("fetches", fetches),
		zap.Int("user_messages", len(userTexts)),
	)

	if err := c.RefreshConversations(ctx); err != nil {
		log.Warn("failed to refresh conversations", zap.Error(err))
	}
	return title, true
}
