package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/internal/stream"
	"github.com/capitalize-ai/chatdesk/pkg/metrics"
)

// Send appends the user's message and an assistant placeholder to the
// active conversation and streams the reply into the placeholder. The
// conversation is created first when none is active. Send blocks until the
// stream ends and returns ErrSuperseded when the user moved on meanwhile.
func (c *Controller) Send(ctx context.Context, text string) error {
	done, err := c.Start(ctx, text)
	if err != nil {
		return err
	}
	return <-done
}

// Start is Send without waiting: busy and empty-message checks happen
// before it returns, the stream runs on a tracked goroutine and its
// outcome is delivered on the returned channel.
func (c *Controller) Start(ctx context.Context, text string) (<-chan error, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	ctx, span := c.tracer.Start(ctx, "controller.send")

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		span.End()
		return nil, ErrClosed
	}
	if c.loadingLocked() {
		c.mu.Unlock()
		span.End()
		return nil, ErrBusy
	}
	sess := stream.NewSession(ctx, c.activeID, c.selectedModel, c.epoch, c.opts.Markers, c.logger)
	c.live = sess
	c.publishLocked(model.ChangeStatus)
	c.wg.Add(1)
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer c.wg.Done()
		defer span.End()
		err := c.run(ctx, sess, text)
		if err != nil && !errors.Is(err, ErrSuperseded) {
			span.RecordError(err)
		}
		span.SetAttributes(
			attribute.String("conversation_id", sess.ConversationID),
			attribute.String("model", sess.Model),
		)
		done <- err
	}()
	return done, nil
}

func (c *Controller) run(ctx context.Context, sess *stream.Session, text string) error {
	if sess.ConversationID == "" {
		if err := c.createForSend(ctx, sess); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.epoch != sess.Epoch {
		c.releaseLocked(sess)
		c.mu.Unlock()
		return ErrSuperseded
	}
	user := model.Message{Key: c.nextKeyLocked(), Role: model.RoleUser, Content: text}
	reply := model.Message{Key: c.nextKeyLocked(), Role: model.RoleAssistant, Streaming: true}
	msgs := make([]model.Message, 0, len(c.messages)+2)
	msgs = append(msgs, c.messages...)
	msgs = append(msgs, user, reply)
	c.messages = msgs
	c.dirty = true
	c.localAppends++
	c.publishLocked(model.ChangeLocalAppend)
	c.mu.Unlock()

	body, err := c.deps.Chat.SendChat(sess.Context(), sess.ConversationID, sess.Model, text)
	if err != nil {
		return c.fail(sess, reply.Key, fmt.Errorf("failed to send message: %w", err))
	}

	res, err := sess.Run(body, &sessionSink{c: c, sess: sess, key: reply.Key})
	if err != nil {
		return c.fail(sess, reply.Key, err)
	}
	return c.finish(ctx, sess, reply.Key, res)
}

// createForSend creates the conversation a first send goes to and binds
// sess to it.
func (c *Controller) createForSend(ctx context.Context, sess *stream.Session) error {
	conv, err := c.deps.Conversations.CreateConversation(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != sess.Epoch {
		c.releaseLocked(sess)
		return ErrSuperseded
	}
	if err != nil {
		c.releaseLocked(sess)
		c.publishLocked(model.ChangeStatus)
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	// activateLocked cancels the live session, which is sess itself.
	c.live = nil
	epoch := c.activateLocked(conv.ID)
	sess.Bind(conv.ID, epoch)
	c.live = sess
	c.unsent[conv.ID] = true
	c.publishLocked(model.ChangeStatus)

	c.logger.Info("conversation created", zap.String("conversation_id", conv.ID))
	return nil
}

// finish finalizes the placeholder. The conversation list is refreshed
// after the first send of a conversation this controller created.
func (c *Controller) finish(ctx context.Context, sess *stream.Session, key string, res *stream.Result) error {
	c.mu.Lock()
	if c.epoch != sess.Epoch {
		c.releaseLocked(sess)
		c.mu.Unlock()
		metrics.RecordStream(sess.Model, "superseded", res.Duration.Seconds())
		return ErrSuperseded
	}

	if i := c.indexOfKeyLocked(key); i >= 0 {
		msg := c.messages[i]
		msg.Content = res.Content
		if res.DocumentID != "" {
			id := res.DocumentID
			msg.DocumentID = &id
		}
		msg.Streaming = false
		c.replaceMessageLocked(i, msg)
	}
	first := c.unsent[sess.ConversationID]
	delete(c.unsent, sess.ConversationID)
	c.releaseLocked(sess)
	c.publishLocked(model.ChangeStreamDone)
	c.mu.Unlock()

	metrics.RecordStream(sess.Model, "ok", res.Duration.Seconds())

	if first {
		if err := c.RefreshConversations(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("failed to refresh conversations", zap.Error(err))
		}
	}
	return nil
}

// fail ends a session that did not run to exhaustion. Cancellation and
// staleness are silent. Other errors replace the placeholder content while
// the session is still bound to the active conversation.
func (c *Controller) fail(sess *stream.Session, key string, err error) error {
	silent := errors.Is(err, stream.ErrSuperseded) || errors.Is(err, context.Canceled)

	c.mu.Lock()
	defer c.mu.Unlock()
	bound := c.epoch == sess.Epoch
	c.releaseLocked(sess)

	if !bound {
		metrics.RecordStream(sess.Model, "superseded", 0)
		return ErrSuperseded
	}

	if i := c.indexOfKeyLocked(key); i >= 0 {
		msg := c.messages[i]
		msg.Streaming = false
		if !silent {
			msg.Content = c.opts.ErrorMessagePrefix + err.Error()
			msg.Failed = true
		}
		c.replaceMessageLocked(i, msg)
	}
	c.publishLocked(model.ChangeStreamDone)

	if silent {
		metrics.RecordStream(sess.Model, "cancelled", 0)
		return ErrSuperseded
	}
	metrics.RecordStream(sess.Model, "error", 0)
	c.logger.Warn("reply stream failed",
		zap.String("conversation_id", sess.ConversationID),
		zap.String("session_id", sess.ID),
		zap.Error(err),
	)
	return err
}

// sessionSink applies a session's output to the placeholder identified by
// key, as long as the session's epoch is current.
type sessionSink struct {
	c    *Controller
	sess *stream.Session
	key  string
}

func (s *sessionSink) Live() bool {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return !s.c.closed && s.c.epoch == s.sess.Epoch
}

func (s *sessionSink) Apply(content, documentID string) bool {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.epoch != s.sess.Epoch {
		return false
	}
	i := c.indexOfKeyLocked(s.key)
	if i < 0 {
		return false
	}

	msg := c.messages[i]
	changed := msg.Content != content
	msg.Content = content
	if documentID != "" && msg.CursorID() != documentID {
		id := documentID
		msg.DocumentID = &id
		changed = true
	}
	if !changed {
		return true
	}
	c.replaceMessageLocked(i, msg)
	c.publishLocked(model.ChangeStreamGrowth)
	return true
}
