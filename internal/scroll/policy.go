// Package scroll decides when a message view follows new content and when
// it keeps the reading position.
package scroll

import (
	"sync"
	"time"

	"github.com/capitalize-ai/chatdesk/internal/clock"
	"github.com/capitalize-ai/chatdesk/internal/model"
)

// Config holds the policy thresholds. Distances are in view rows (or
// pixels, as long as the caller is consistent).
type Config struct {
	// NearBottom is the distance from the bottom still treated as "at the
	// bottom".
	NearBottom int
	// TopTrigger is the distance from the top that triggers a backward
	// page load.
	TopTrigger int
	// IdleTimeout resets the user-scrolling signal.
	IdleTimeout time.Duration
	// Cooldown suppresses re-triggering after a backward load completes.
	Cooldown time.Duration
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		NearBottom:  3,
		TopTrigger:  1,
		IdleTimeout: 1500 * time.Millisecond,
		Cooldown:    500 * time.Millisecond,
	}
}

// Viewport describes the visible window over the content.
type Viewport struct {
	Offset        int `json:"offset"`
	Height        int `json:"height"`
	ContentHeight int `json:"content_height"`
}

// MaxOffset is the offset that shows the end of the content.
func (v Viewport) MaxOffset() int {
	if v.ContentHeight <= v.Height {
		return 0
	}
	return v.ContentHeight - v.Height
}

// DistanceFromBottom is how far the view is scrolled up from the end.
func (v Viewport) DistanceFromBottom() int {
	d := v.MaxOffset() - v.Offset
	if d < 0 {
		return 0
	}
	return d
}

// Anchor captures the view before a prepend.
type Anchor struct {
	Offset        int `json:"offset"`
	ContentHeight int `json:"content_height"`
}

// Restore returns the offset that keeps previously visible content in
// place once the content has grown to newContentHeight.
func (a Anchor) Restore(newContentHeight int) int {
	delta := newContentHeight - a.ContentHeight
	if delta < 0 {
		delta = 0
	}
	return a.Offset + delta
}

// Decision is the outcome of a scroll event.
type Decision struct {
	// LoadOlder asks the caller to fetch the previous page and call
	// EndLoadOlder when done.
	LoadOlder bool `json:"load_older"`
	// Anchor is set with LoadOlder.
	Anchor *Anchor `json:"anchor,omitempty"`
	// UserScrolling reports the user-scrolling signal after the event.
	UserScrolling bool `json:"user_scrolling"`
}

// Policy tracks the user-scrolling and loading-older signals.
type Policy struct {
	cfg   Config
	clock clock.Clock

	mu            sync.Mutex
	userScrolling bool
	idle          clock.Timer
	loadingOlder  bool
	cooldownUntil time.Time
}

// New creates a policy.
func New(cfg Config, clk clock.Clock) *Policy {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Policy{cfg: cfg, clock: clk}
}

// OnScroll records a scroll event. Near the top with more history
// available, it claims exactly one backward load; further events are
// ignored until EndLoadOlder and the cooldown have passed.
func (p *Policy) OnScroll(v Viewport, hasMore bool) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v.DistanceFromBottom() > p.cfg.NearBottom {
		p.userScrolling = true
		p.restartIdleLocked()
	} else {
		p.userScrolling = false
		p.stopIdleLocked()
	}

	d := Decision{UserScrolling: p.userScrolling}
	if v.Offset <= p.cfg.TopTrigger && hasMore && !p.loadingOlder && !p.clock.Now().Before(p.cooldownUntil) {
		p.loadingOlder = true
		d.LoadOlder = true
		d.Anchor = &Anchor{Offset: v.Offset, ContentHeight: v.ContentHeight}
	}
	return d
}

// EndLoadOlder clears the loading signal and starts the cooldown.
func (p *Policy) EndLoadOlder() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadingOlder = false
	p.cooldownUntil = p.clock.Now().Add(p.cfg.Cooldown)
}

// ShouldFollow reports whether the view should jump to the bottom after a
// change of the given kind.
func (p *Policy) ShouldFollow(v Viewport, kind model.ChangeKind) bool {
	switch kind {
	case model.ChangeLocalAppend, model.ChangeReload:
		return true
	case model.ChangeStreamGrowth, model.ChangeStreamDone:
		p.mu.Lock()
		defer p.mu.Unlock()
		return v.DistanceFromBottom() <= p.cfg.NearBottom || !p.userScrolling
	default:
		return false
	}
}

// UserScrolling reports whether the user has scrolled away recently.
func (p *Policy) UserScrolling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userScrolling
}

// LoadingOlder reports whether a backward load is outstanding.
func (p *Policy) LoadingOlder() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadingOlder
}

// Reset clears all signals, used when the conversation changes.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopIdleLocked()
	p.userScrolling = false
	p.loadingOlder = false
	p.cooldownUntil = time.Time{}
}

func (p *Policy) restartIdleLocked() {
	p.stopIdleLocked()
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	var t clock.Timer
	t = p.clock.AfterFunc(p.cfg.IdleTimeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.idle == t {
			p.userScrolling = false
			p.idle = nil
		}
	})
	p.idle = t
}

func (p *Policy) stopIdleLocked() {
	if p.idle != nil {
		p.idle.Stop()
		p.idle = nil
	}
}
