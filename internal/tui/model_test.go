package tui

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatdesk/internal/clock"
	"github.com/capitalize-ai/chatdesk/internal/controller"
	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/internal/pagination"
	"github.com/capitalize-ai/chatdesk/internal/scroll"
)

type fakeController struct {
	snap     model.Snapshot
	ch       chan model.Snapshot
	started  []string
	selected []string
	newChats int
	startErr error
}

func (f *fakeController) Snapshot() model.Snapshot { return f.snap }

func (f *fakeController) Subscribe() (<-chan model.Snapshot, func()) {
	f.ch = make(chan model.Snapshot, 1)
	return f.ch, func() {}
}

func (f *fakeController) SelectConversation(ctx context.Context, id string) error {
	f.selected = append(f.selected, id)
	return nil
}

func (f *fakeController) NewChat(ctx context.Context) (*model.Conversation, error) {
	f.newChats++
	return &model.Conversation{ID: "new"}, nil
}

func (f *fakeController) Start(ctx context.Context, text string) (<-chan error, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, text)
	done := make(chan error, 1)
	done <- nil
	return done, nil
}

func (f *fakeController) LoadOlder(ctx context.Context) (*pagination.Page, error) {
	return nil, nil
}

func messages(n int) []model.Message {
	out := make([]model.Message, n)
	for i := range out {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		out[i] = model.Message{Key: fmt.Sprintf("m-%d", i), Role: role, Content: fmt.Sprintf("line %d", i)}
	}
	return out
}

func newModel(t *testing.T, ctrl *fakeController) Model {
	t.Helper()
	policy := scroll.New(scroll.DefaultConfig(), clock.NewFake(time.Unix(0, 0)))
	m := New(context.Background(), ctrl, policy)
	t.Cleanup(m.Close)
	return update(m, tea.WindowSizeMsg{Width: 100, Height: 30})
}

func update(m Model, msg tea.Msg) Model {
	next, _ := m.Update(msg)
	return next.(Model)
}

func key(t tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: t} }

func TestSnapshotRendersAndFollows(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(t, ctrl)
	require.Contains(t, m.View(), "Start a conversation.")

	m = update(m, snapshotMsg(model.Snapshot{
		Revision:             2,
		ActiveConversationID: "c1",
		Conversations:        []model.Conversation{{ID: "c1", Title: "Trip planning"}},
		Messages:             messages(30),
		ScrollToBottom:       1,
		Change:               model.ChangeReload,
	}))

	view := m.View()
	require.Contains(t, view, "Trip planning")
	require.Contains(t, view, "line 29")
	require.True(t, m.viewport.AtBottom())
	require.Equal(t, "m-0", m.firstKey)
}

func TestOlderRevisionIgnored(t *testing.T) {
	m := newModel(t, &fakeController{})
	m = update(m, snapshotMsg(model.Snapshot{Revision: 5, Messages: messages(2)}))
	m = update(m, snapshotMsg(model.Snapshot{Revision: 4, Messages: messages(1)}))
	require.Len(t, m.snap.Messages, 2)
}

func TestEnterSendsInput(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(t, ctrl)

	m.input.SetValue("  Hello  ")
	m = update(m, key(tea.KeyEnter))
	require.Equal(t, []string{"Hello"}, ctrl.started)
	require.Empty(t, m.input.Value())

	// Blank input sends nothing.
	m = update(m, key(tea.KeyEnter))
	require.Len(t, ctrl.started, 1)

	ctrl.startErr = controller.ErrBusy
	m.input.SetValue("again")
	m = update(m, key(tea.KeyEnter))
	require.ErrorIs(t, m.err, controller.ErrBusy)
	require.Equal(t, "again", m.input.Value())
	require.Contains(t, m.View(), controller.ErrBusy.Error())
}

func TestSidebarSelectsConversation(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(t, ctrl)
	m = update(m, snapshotMsg(model.Snapshot{
		Revision:      1,
		Conversations: []model.Conversation{{ID: "c1", Title: "One"}, {ID: "c2", Title: "Two"}},
	}))

	m = update(m, key(tea.KeyTab))
	require.Equal(t, focusSidebar, m.focus)
	m = update(m, key(tea.KeyDown))
	m = update(m, key(tea.KeyDown))
	require.Equal(t, 1, m.cursor)

	cmd, quit := m.handleKey(key(tea.KeyEnter))
	require.False(t, quit)
	require.NotNil(t, cmd)
	require.Nil(t, cmd())
	require.Equal(t, []string{"c2"}, ctrl.selected)
	require.Equal(t, focusInput, m.focus)
}

func TestNewChatKey(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(t, ctrl)

	cmd, _ := m.handleKey(key(tea.KeyCtrlN))
	require.NotNil(t, cmd)
	cmd()
	require.Equal(t, 1, ctrl.newChats)
}

func TestSupersededErrorsStayQuiet(t *testing.T) {
	m := newModel(t, &fakeController{})
	m = update(m, errMsg{controller.ErrSuperseded})
	require.NoError(t, m.err)

	m = update(m, errMsg{errors.New("backend down")})
	require.EqualError(t, m.err, "backend down")
}

func TestFailedOlderLoadReleasesPolicy(t *testing.T) {
	m := newModel(t, &fakeController{})
	m = update(m, snapshotMsg(model.Snapshot{Revision: 1, Messages: messages(40), HasMore: true, ScrollToBottom: 1}))

	m.viewport.GotoTop()
	require.NotNil(t, m.checkScroll())
	require.NotNil(t, m.anchor)
	require.True(t, m.policy.LoadingOlder())

	m = update(m, olderMsg{err: errors.New("timeout")})
	require.Nil(t, m.anchor)
	require.False(t, m.policy.LoadingOlder())
	require.EqualError(t, m.err, "timeout")
}

func TestPrependRestoresAnchor(t *testing.T) {
	m := newModel(t, &fakeController{})
	msgs := messages(40)
	m = update(m, snapshotMsg(model.Snapshot{Revision: 1, Messages: msgs[20:], HasMore: true, ScrollToBottom: 1}))

	m.viewport.GotoTop()
	require.NotNil(t, m.checkScroll())
	before := m.contentHeight

	m = update(m, snapshotMsg(model.Snapshot{Revision: 2, Messages: msgs, HasMore: false, ScrollToBottom: 1, Change: model.ChangePrepend}))
	require.Nil(t, m.anchor)
	require.False(t, m.policy.LoadingOlder())
	require.Equal(t, m.contentHeight-before, m.viewport.YOffset)
}

func TestCtrlCQuits(t *testing.T) {
	m := newModel(t, &fakeController{})
	_, cmd := m.Update(key(tea.KeyCtrlC))
	require.NotNil(t, cmd)
	require.Equal(t, tea.Quit(), cmd())
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "旅行计…", truncate("旅行计划安排", 4))
}

func TestCoalescedLocalSendStillFollows(t *testing.T) {
	m := newModel(t, &fakeController{})
	msgs := messages(40)
	m = update(m, snapshotMsg(model.Snapshot{Revision: 1, Messages: msgs, ScrollToBottom: 1}))

	m.viewport.SetYOffset(10)
	require.Nil(t, m.checkScroll())
	require.True(t, m.policy.UserScrolling())

	// Growth alone does not pull a reader who scrolled away.
	grown := append(append([]model.Message(nil), msgs...), model.Message{Key: "m-40", Role: model.RoleAssistant, Content: "more"})
	m = update(m, snapshotMsg(model.Snapshot{Revision: 2, Messages: grown, ScrollToBottom: 1, Change: model.ChangeStreamGrowth}))
	require.False(t, m.viewport.AtBottom())

	// The local append snapshot was replaced by a growth snapshot, but the
	// counter moved.
	sent := append(append([]model.Message(nil), grown...),
		model.Message{Key: "local-1", Role: model.RoleUser, Content: "question"},
		model.Message{Key: "local-2", Role: model.RoleAssistant, Content: "an", Streaming: true})
	m = update(m, snapshotMsg(model.Snapshot{
		Revision:       4,
		Messages:       sent,
		ScrollToBottom: 1,
		LocalAppends:   1,
		Change:         model.ChangeStreamGrowth,
	}))
	require.True(t, m.viewport.AtBottom())
}
