// Package events fans controller snapshots out to subscribers.
package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

// Hub delivers snapshots to subscribers. Delivery coalesces: a slow
// subscriber only ever sees the newest snapshot it has not consumed, and
// revisions never go backwards.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]*subscriber
	last   *model.Snapshot
	closed bool
	logger *logger.Logger
}

type subscriber struct {
	id       string
	ch       chan model.Snapshot
	revision uint64
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]*subscriber),
		logger: log,
	}
}

// Subscribe registers a subscriber. The latest snapshot, if any, is
// delivered immediately. The returned cancel func is idempotent.
func (h *Hub) Subscribe() (<-chan model.Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscriber{
		id: uuid.NewString(),
		ch: make(chan model.Snapshot, 1),
	}
	if h.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub.id] = sub
	if h.last != nil {
		sub.offer(*h.last)
	}
	h.logger.Debug("subscriber added", zap.String("subscriber_id", sub.id), zap.Int("subscribers", len(h.subs)))

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { h.remove(sub.id) })
	}
}

// Publish delivers snap to every subscriber. Snapshots older than one
// already delivered are ignored.
func (h *Hub) Publish(snap model.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if h.last != nil && snap.Revision < h.last.Revision {
		return
	}
	h.last = &snap
	for _, sub := range h.subs {
		sub.offer(snap)
	}
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
	h.logger.Debug("subscriber removed", zap.String("subscriber_id", id), zap.Int("subscribers", len(h.subs)))
}

// offer replaces any undelivered snapshot with snap. Called with the hub
// lock held, so it never races with close.
func (s *subscriber) offer(snap model.Snapshot) {
	if snap.Revision < s.revision {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
	s.revision = snap.Revision
}
