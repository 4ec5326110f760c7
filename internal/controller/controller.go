// Package controller owns conversation selection, reply streaming, history
// paging and auto-titling for one chat client.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/capitalize-ai/chatdesk/internal/clock"
	"github.com/capitalize-ai/chatdesk/internal/events"
	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/internal/pagination"
	"github.com/capitalize-ai/chatdesk/internal/stream"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
	"github.com/capitalize-ai/chatdesk/pkg/tracing"
)

var (
	// ErrBusy is returned by Send while a reply is streaming into the
	// active conversation.
	ErrBusy = errors.New("a reply is already streaming")
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSuperseded is returned when the active conversation changed while
	// an operation was in flight. Callers treat it as a silent outcome.
	ErrSuperseded = errors.New("superseded by a conversation change")
	// ErrUnknownModel is returned by SelectModel for ids not in the catalogue.
	ErrUnknownModel = errors.New("unknown model")
	// ErrEmptyTitle is returned by Rename for a blank title.
	ErrEmptyTitle = errors.New("title is empty")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")
)

// ConversationAPI manages server-owned conversations.
type ConversationAPI interface {
	ListConversations(ctx context.Context, page, pageSize int) ([]model.Conversation, error)
	CreateConversation(ctx context.Context) (*model.Conversation, error)
	RenameConversation(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id string) error
}

// ChatStreamer opens a streamed reply.
type ChatStreamer interface {
	SendChat(ctx context.Context, conversationID, modelID, text string) (io.ReadCloser, error)
}

// Titler derives a conversation title from its user turns.
type Titler interface {
	GenerateTitle(ctx context.Context, userTexts []string) (string, error)
}

// ModelLister lists selectable models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]model.ChatModel, error)
}

// ReconcilePolicy controls the deferred re-fetch after a switch. The delay
// is a guess at how long the backend needs to persist the tail of a
// cancelled reply, not a guaranteed bound.
type ReconcilePolicy struct {
	Enabled bool
	Delay   time.Duration
}

// Options tunes the controller.
type Options struct {
	HistoryPageSize      int
	TitlePageSize        int
	ConversationPageSize int
	DefaultTitle         string
	ErrorMessagePrefix   string
	Markers              stream.Markers
	Reconcile            ReconcilePolicy
}

// DefaultOptions returns the stock settings.
func DefaultOptions() Options {
	return Options{
		HistoryPageSize:      10,
		TitlePageSize:        100,
		ConversationPageSize: 50,
		DefaultTitle:         "新对话",
		ErrorMessagePrefix:   "抱歉，发生了错误：",
		Markers:              stream.DefaultMarkers,
		Reconcile:            ReconcilePolicy{Enabled: true, Delay: time.Second},
	}
}

// Deps are the controller's collaborators. Titler and Models are optional.
type Deps struct {
	Conversations ConversationAPI
	Chat          ChatStreamer
	Titler        Titler
	Models        ModelLister
	Pages         *pagination.Engine
	Clock         clock.Clock
	Hub           *events.Hub
}

// Controller is the single owner of conversation and message state. All
// state is guarded by mu; lists are replaced, never mutated in place, so
// published snapshots stay immutable.
type Controller struct {
	deps   Deps
	opts   Options
	logger *logger.Logger
	tracer trace.Tracer
	hub    *events.Hub

	mu sync.Mutex
	// epoch increments on every change of the active conversation.
	epoch          uint64
	revision       uint64
	lastChange     model.ChangeKind
	activeID       string
	conversations  []model.Conversation
	messages       []model.Message
	models         []model.ChatModel
	selectedModel  string
	live           *stream.Session
	loadingOlder   bool
	hasMore        bool
	scrollToBottom uint64
	// localAppends counts local sends so followers see one even when its
	// snapshot is coalesced away.
	localAppends uint64
	nextKey      uint64
	// listRequested and listApplied order conversation list refreshes.
	listRequested uint64
	listApplied   uint64
	// loadedWindow is the latest id window the message list was built from.
	loadedWindow []string
	// dirty is set once a local send touched the list since the last load.
	dirty          bool
	unsent         map[string]bool
	reconcileTimer clock.Timer
	closed         bool

	wg sync.WaitGroup
}

// New creates a controller.
func New(deps Deps, opts Options, log *logger.Logger) *Controller {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Hub == nil {
		deps.Hub = events.NewHub(log)
	}
	if opts.Markers.Start == "" || opts.Markers.End == "" {
		opts.Markers = stream.DefaultMarkers
	}
	return &Controller{
		deps:       deps,
		opts:       opts,
		logger:     log,
		tracer:     tracing.Tracer("chatdesk/controller"),
		hub:        deps.Hub,
		lastChange: model.ChangeStatus,
		unsent:     make(map[string]bool),
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe streams snapshots, starting with the latest one.
func (c *Controller) Subscribe() (<-chan model.Snapshot, func()) {
	return c.hub.Subscribe()
}

// ActiveConversationID returns the active conversation, or "" if none.
func (c *Controller) ActiveConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// Wait blocks until background titling has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels the live stream and the pending reconciliation, waits for
// background work and closes subscriber channels.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.live != nil {
		c.live.Cancel()
	}
	c.stopReconcileLocked()
	c.mu.Unlock()

	c.wg.Wait()
	c.hub.Close()
}

// loadingLocked reports whether a reply is streaming into the active
// conversation. A session left over from a previous conversation does not
// count.
func (c *Controller) loadingLocked() bool {
	return c.live != nil && c.live.Epoch == c.epoch
}

// releaseLocked forgets sess if it is still the live session.
func (c *Controller) releaseLocked(sess *stream.Session) {
	if c.live == sess {
		c.live = nil
	}
}

// activateLocked makes id the active conversation with an empty list. The
// live session, if any, is cancelled; it clears itself when it unwinds.
func (c *Controller) activateLocked(id string) uint64 {
	if c.live != nil {
		c.live.Cancel()
	}
	c.stopReconcileLocked()
	c.epoch++
	c.activeID = id
	c.messages = nil
	c.hasMore = false
	c.loadingOlder = false
	c.loadedWindow = nil
	c.dirty = false
	return c.epoch
}

func (c *Controller) nextKeyLocked() string {
	c.nextKey++
	return fmt.Sprintf("local-%d", c.nextKey)
}

func (c *Controller) indexOfKeyLocked(key string) int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Key == key {
			return i
		}
	}
	return -1
}

// replaceMessageLocked swaps in an updated copy of the message at i.
func (c *Controller) replaceMessageLocked(i int, msg model.Message) {
	msgs := make([]model.Message, len(c.messages))
	copy(msgs, c.messages)
	msgs[i] = msg
	c.messages = msgs
}

func (c *Controller) snapshotLocked() model.Snapshot {
	return model.Snapshot{
		Revision:             c.revision,
		Epoch:                c.epoch,
		Change:               c.lastChange,
		ActiveConversationID: c.activeID,
		Conversations:        c.conversations,
		Messages:             c.messages,
		Models:               c.models,
		SelectedModel:        c.selectedModel,
		Loading:              c.loadingLocked(),
		LoadingOlder:         c.loadingOlder,
		HasMore:              c.hasMore,
		ScrollToBottom:       c.scrollToBottom,
		LocalAppends:         c.localAppends,
		At:                   c.deps.Clock.Now(),
	}
}

func (c *Controller) publishLocked(kind model.ChangeKind) {
	c.revision++
	c.lastChange = kind
	c.hub.Publish(c.snapshotLocked())
}

// goBackground runs fn on a tracked goroutine detached from the caller's
// cancellation.
func (c *Controller) goBackground(ctx context.Context, fn func(ctx context.Context)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(context.WithoutCancel(ctx))
	}()
	return true
}
