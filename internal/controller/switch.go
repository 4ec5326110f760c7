package controller

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/pkg/metrics"
)

// SelectConversation makes targetID the active conversation and loads its
// newest page. Selecting the active conversation is a no-op. A reply still
// streaming into the previous conversation is cancelled; the previous
// conversation is auto-titled in the background when it still carries the
// default title.
func (c *Controller) SelectConversation(ctx context.Context, targetID string) error {
	ctx, span := c.tracer.Start(ctx, "controller.select")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", targetID))

	if targetID == "" {
		return fmt.Errorf("select conversation: empty id")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if targetID == c.activeID {
		c.mu.Unlock()
		return nil
	}
	prevID := c.activeID
	titlePrev := c.needsTitleLocked()
	epoch := c.activateLocked(targetID)
	c.publishLocked(model.ChangeReload)
	c.mu.Unlock()

	c.logger.Debug("conversation selected",
		zap.String("conversation_id", targetID),
		zap.String("previous_id", prevID),
		zap.Uint64("epoch", epoch),
	)

	if titlePrev {
		c.autoTitleInBackground(ctx, prevID)
	}

	page, err := c.deps.Pages.LoadLatest(ctx, targetID, c.opts.HistoryPageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return ErrSuperseded
	}
	if err != nil {
		span.RecordError(err)
		c.publishLocked(model.ChangeStatus)
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	c.messages = page.Messages
	c.hasMore = page.HasMore
	c.loadedWindow = page.IDs
	c.scrollToBottom++
	c.scheduleReconcileLocked(targetID, epoch)
	c.publishLocked(model.ChangeReload)
	return nil
}

// NewChat creates a conversation and makes it active with an empty list.
func (c *Controller) NewChat(ctx context.Context) (*model.Conversation, error) {
	ctx, span := c.tracer.Start(ctx, "controller.new_chat")
	defer span.End()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	prevID := c.activeID
	titlePrev := c.needsTitleLocked()
	epoch := c.epoch
	c.mu.Unlock()

	if titlePrev {
		c.autoTitleInBackground(ctx, prevID)
	}

	conv, err := c.deps.Conversations.CreateConversation(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	// A selection made while the create was in flight wins; the new
	// conversation still shows up in the list.
	c.mu.Lock()
	c.unsent[conv.ID] = true
	activated := c.epoch == epoch && !c.closed
	if activated {
		c.activateLocked(conv.ID)
		c.publishLocked(model.ChangeReload)
	}
	c.mu.Unlock()

	c.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.Bool("activated", activated),
	)

	if err := c.RefreshConversations(ctx); err != nil {
		c.logger.Warn("failed to refresh conversations", zap.Error(err))
	}
	return conv, nil
}

// Rename retitles a conversation and refreshes the list.
func (c *Controller) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	if err := c.deps.Conversations.RenameConversation(ctx, id, title); err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	return c.RefreshConversations(ctx)
}

// Delete removes a conversation. Deleting the active conversation cancels
// its stream and clears the view.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if err := c.deps.Conversations.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	c.mu.Lock()
	delete(c.unsent, id)
	if id == c.activeID {
		c.activateLocked("")
		c.publishLocked(model.ChangeReload)
	}
	c.mu.Unlock()

	c.logger.Info("conversation deleted", zap.String("conversation_id", id))
	return c.RefreshConversations(ctx)
}

// RefreshConversations replaces the cached conversation list. A listing
// that finishes after a later one has been applied is dropped.
func (c *Controller) RefreshConversations(ctx context.Context) error {
	c.mu.Lock()
	c.listRequested++
	gen := c.listRequested
	c.mu.Unlock()

	convs, err := c.deps.Conversations.ListConversations(ctx, 1, c.opts.ConversationPageSize)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen < c.listApplied {
		c.logger.Debug("dropping stale conversation list", zap.Uint64("generation", gen))
		return nil
	}
	c.listApplied = gen
	c.conversations = convs
	c.publishLocked(model.ChangeConversations)
	return nil
}

// LoadModels fetches the model catalogue. The first model is selected when
// nothing valid is selected yet.
func (c *Controller) LoadModels(ctx context.Context) error {
	if c.deps.Models == nil {
		return nil
	}
	models, err := c.deps.Models.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = models
	if _, ok := findModel(models, c.selectedModel); !ok && len(models) > 0 {
		c.selectedModel = models[0].ID
	}
	c.publishLocked(model.ChangeStatus)
	return nil
}

// SelectModel chooses the model used by subsequent sends. Any id is
// accepted until the catalogue has been loaded.
func (c *Controller) SelectModel(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.models) > 0 {
		if _, ok := findModel(c.models, id); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownModel, id)
		}
	}
	c.selectedModel = id
	c.publishLocked(model.ChangeStatus)
	return nil
}

func findModel(models []model.ChatModel, id string) (model.ChatModel, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return model.ChatModel{}, false
}

// needsTitleLocked reports whether the active conversation still carries
// the default title and has a user message in memory.
func (c *Controller) needsTitleLocked() bool {
	if c.activeID == "" {
		return false
	}
	conv, ok := model.FindConversation(c.conversations, c.activeID)
	if !ok || conv.Title != c.opts.DefaultTitle {
		return false
	}
	for _, m := range c.messages {
		if m.Role == model.RoleUser {
			return true
		}
	}
	return false
}

func (c *Controller) autoTitleInBackground(ctx context.Context, id string) {
	c.goBackground(ctx, func(ctx context.Context) {
		c.AutoTitle(ctx, id)
	})
}

// scheduleReconcileLocked arms the deferred re-fetch for the page just
// loaded into conversation id at epoch.
func (c *Controller) scheduleReconcileLocked(id string, epoch uint64) {
	if !c.opts.Reconcile.Enabled {
		return
	}
	c.stopReconcileLocked()
	c.reconcileTimer = c.deps.Clock.AfterFunc(c.opts.Reconcile.Delay, func() {
		c.reconcile(id, epoch)
	})
}

func (c *Controller) stopReconcileLocked() {
	if c.reconcileTimer != nil {
		c.reconcileTimer.Stop()
		c.reconcileTimer = nil
	}
}

// reconcileSkipLocked returns why a reconciliation for id at epoch must not
// touch the list, or "" when it may.
func (c *Controller) reconcileSkipLocked(id string, epoch uint64) string {
	switch {
	case c.closed:
		return "closed"
	case c.epoch != epoch || c.activeID != id:
		return "stale"
	case c.loadingLocked() || c.dirty || c.loadingOlder:
		return "busy"
	}
	return ""
}

// reconcile re-fetches the newest id window and replaces the list when it
// differs from what was loaded. Older pages already prepended are kept.
func (c *Controller) reconcile(id string, epoch uint64) {
	c.mu.Lock()
	if reason := c.reconcileSkipLocked(id, epoch); reason != "" {
		c.mu.Unlock()
		metrics.ReconcileTotal.WithLabelValues("skipped").Inc()
		return
	}
	c.reconcileTimer = nil
	loaded := c.loadedWindow
	c.mu.Unlock()

	ctx, span := c.tracer.Start(context.Background(), "controller.reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", id))

	ids, err := c.deps.Pages.LatestIDs(ctx, id, c.opts.HistoryPageSize)
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues("error").Inc()
		c.logger.Warn("reconcile failed", zap.String("conversation_id", id), zap.Error(err))
		return
	}
	if sameWindow(loaded, ids) {
		metrics.ReconcileTotal.WithLabelValues("unchanged").Inc()
		return
	}

	page := c.deps.Pages.Resolve(ctx, ids, c.opts.HistoryPageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	if reason := c.reconcileSkipLocked(id, epoch); reason != "" {
		metrics.ReconcileTotal.WithLabelValues("skipped").Inc()
		return
	}

	prefix := olderPrefix(c.messages, page.IDs)
	msgs := make([]model.Message, 0, len(prefix)+len(page.Messages))
	msgs = append(msgs, prefix...)
	msgs = append(msgs, page.Messages...)
	c.messages = msgs
	if len(prefix) == 0 {
		c.hasMore = page.HasMore
	}
	c.loadedWindow = page.IDs
	c.publishLocked(model.ChangeReload)

	metrics.ReconcileTotal.WithLabelValues("replaced").Inc()
	c.logger.Info("conversation reconciled",
		zap.String("conversation_id", id),
		zap.Int("loaded", len(loaded)),
		zap.Int("latest", len(ids)),
	)
}

// sameWindow compares id windows by count and newest id.
func sameWindow(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || a[len(a)-1] == b[len(b)-1]
}

// olderPrefix returns the messages preceding the first message that is
// part of window. When the list shares nothing with window the older
// pages cannot be stitched on and nil is returned.
func olderPrefix(msgs []model.Message, window []string) []model.Message {
	if len(window) == 0 {
		return nil
	}
	inWindow := make(map[string]struct{}, len(window))
	for _, id := range window {
		inWindow[id] = struct{}{}
	}
	for i, m := range msgs {
		if _, ok := inWindow[m.CursorID()]; ok {
			return msgs[:i]
		}
	}
	return nil
}
