package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/pkg/logger"
	"github.com/capitalize-ai/chatdesk/pkg/metrics"
)

// ErrSuperseded is returned when a session stopped because it went stale.
var ErrSuperseded = errors.New("stream session superseded")

const readBufferSize = 4096

// Sink receives the visible state of a session. Both methods are called
// from the session's reader goroutine.
type Sink interface {
	// Live reports whether the session may still mutate shared state.
	Live() bool
	// Apply publishes content and document id. The liveness check and the
	// mutation happen atomically; it returns false when the session is
	// stale and nothing was written.
	Apply(content, documentID string) bool
}

// Result is the outcome of a stream that ran to exhaustion.
type Result struct {
	Content    string
	DocumentID string
	Chunks     int
	Duration   time.Duration
}

// Session is one in-flight reply stream bound to a conversation and to the
// controller epoch current at its creation.
type Session struct {
	ID             string
	ConversationID string
	Epoch          uint64
	Model          string

	ctx     context.Context
	cancel  context.CancelFunc
	decoder *Decoder
	base    *logger.Logger
	logger  *logger.Logger

	closeOnce sync.Once
	body      io.Closer
	mu        sync.Mutex
}

// NewSession creates a session with its own cancellation handle derived
// from parent.
func NewSession(parent context.Context, conversationID, modelID string, epoch uint64, markers Markers, log *logger.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	return &Session{
		ID:             id,
		ConversationID: conversationID,
		Epoch:          epoch,
		Model:          modelID,
		ctx:            ctx,
		cancel:         cancel,
		decoder:        NewDecoder(markers),
		base:           log,
		logger:         log.WithSession(conversationID, id, epoch),
	}
}

// Bind rebinds a session that has not started running, used when the
// conversation is created after the session was reserved. The caller
// serializes Bind with every reader of ConversationID and Epoch.
func (s *Session) Bind(conversationID string, epoch uint64) {
	s.ConversationID = conversationID
	s.Epoch = epoch
	s.logger = s.base.WithSession(conversationID, s.ID, epoch)
}

// Context is cancelled when the session is cancelled. The chat request
// must be issued with it.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Cancel aborts the request and closes the reader. It is safe to call more
// than once and from any goroutine.
func (s *Session) Cancel() {
	s.cancel()
	s.mu.Lock()
	body := s.body
	s.mu.Unlock()
	if body != nil {
		s.closeOnce.Do(func() { _ = body.Close() })
	}
}

// Cancelled reports whether Cancel has been called.
func (s *Session) Cancelled() bool {
	return s.ctx.Err() != nil
}

// Run reads body until exhaustion, cancellation or staleness. Liveness is
// checked before every read and with every mutation.
func (s *Session) Run(body io.ReadCloser, sink Sink) (*Result, error) {
	s.mu.Lock()
	s.body = body
	s.mu.Unlock()
	defer s.closeOnce.Do(func() { _ = body.Close() })

	metrics.StreamSessionsActive.Inc()
	defer metrics.StreamSessionsActive.Dec()

	start := time.Now()
	buf := make([]byte, readBufferSize)
	chunks := 0

	for {
		if !sink.Live() {
			return nil, s.supersede(chunks)
		}

		n, err := body.Read(buf)
		if n > 0 {
			upd := s.decoder.Write(buf[:n])
			if upd.Err != nil {
				metrics.EnvelopeErrorsTotal.Inc()
				s.logger.Warn("ignoring metadata envelope", zap.Error(upd.Err))
			}
			if !sink.Apply(upd.Content, upd.DocumentID) {
				metrics.StreamChunksTotal.WithLabelValues("stale").Inc()
				return nil, s.supersede(chunks)
			}
			metrics.StreamChunksTotal.WithLabelValues("accepted").Inc()
			chunks++
		}

		if errors.Is(err, io.EOF) {
			content, documentID := s.decoder.Finish()
			s.logger.Debug("stream exhausted",
				zap.Int("chunks", chunks),
				zap.String("document_id", documentID),
			)
			return &Result{
				Content:    content,
				DocumentID: documentID,
				Chunks:     chunks,
				Duration:   time.Since(start),
			}, nil
		}
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("stream cancelled: %w", ctxErr)
			}
			return nil, fmt.Errorf("failed to read stream: %w", err)
		}
	}
}

func (s *Session) supersede(chunks int) error {
	s.Cancel()
	s.logger.Debug("stream superseded", zap.Int("chunks", chunks))
	return ErrSuperseded
}
