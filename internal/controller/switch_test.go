package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatdesk/internal/model"
)

func TestSelectConversationLoadsNewestPage(t *testing.T) {
	be := newBackend()
	be.addConversation("a", "Alpha", 4)
	h := newHarness(t, be)

	before := h.ctrl.Snapshot().ScrollToBottom
	require.NoError(t, h.ctrl.SelectConversation(context.Background(), "a"))

	snap := h.ctrl.Snapshot()
	require.Equal(t, "a", snap.ActiveConversationID)
	require.Equal(t, []string{"a message 1", "a message 2", "a message 3", "a message 4"}, contents(snap.Messages))
	require.False(t, snap.HasMore)
	require.Equal(t, before+1, snap.ScrollToBottom)
	require.Equal(t, model.ChangeReload, snap.Change)
}

func TestSelectActiveConversationIsNoop(t *testing.T) {
	be := newBackend()
	be.addConversation("a", "Alpha", 2)
	h := newHarness(t, be)
	ctx := context.Background()
	require.NoError(t, h.ctrl.SelectConversation(ctx, "a"))

	rev := h.ctrl.Snapshot().Revision
	require.NoError(t, h.ctrl.SelectConversation(ctx, "a"))
	require.Equal(t, rev, h.ctrl.Snapshot().Revision)
	require.Equal(t, 1, be.idCallCount("latest"))

	require.Error(t, h.ctrl.SelectConversation(ctx, ""))
}

func TestReconcileAppendsPersistedTail(t *testing.T) {
	be := newBackend()
	be.addConversation("a", "Alpha", 3)
	h := newHarness(t, be)
	require.NoError(t, h.ctrl.SelectConversation(context.Background(), "a"))
	require.Equal(t, 1, h.clock.Pending())

	be.appendDoc("a", model.RoleAssistant, "persisted after cancel")
	h.clock.Advance(time.Second)

	snap := h.ctrl.Snapshot()
	require.Len(t, snap.Messages, 4)
	require.Equal(t, "persisted after cancel", snap.Messages[3].Content)
	require.Equal(t, model.ChangeReload, snap.Change)
}

func TestReconcileUnchangedDoesNotPublish(t *testing.T) {
	be := newBackend()
	be.addConversation("a", "Alpha", 3)
	h := newHarness(t, be)
	require.NoError(t, h.ctrl.SelectConversation(context.Background(), "a"))

	rev := h.ctrl.Snapshot().Revision
	h.clock.Advance(time.Second)
	require.Equal(t, rev, h.ctrl.Snapshot().Revision)
	require.Equal(t, 2, be.idCallCount("latest"))
}

func TestReconcileKeepsOlderPages(t *testing.T) {
	be := newBackend()
	be.addConversation("a", "Alpha", 25)
	h := newHarness(t, be)
	ctx := context.Background()
	require.NoError(t, h.ctrl.SelectConversation(ctx, "a"))
	_, err := h.ctrl.LoadOlder(ctx)
	require.NoError(t, err)
	require.Len(t, h.ctrl.Snapshot().Messages, 20)

	be.appendDoc("a", model.RoleAssistant, "a message 26")
	h.clock.Advance(time.Second)

	snap := h.ctrl.Snapshot()
	require.Len(t, snap.Messages, 21)
	require.Equal(t, "a-6", snap.Messages[0].Key)
	require.Equal(t, "a-16", snap.Messages[10].Key)
	require.Equal(t, "a-26", snap.Messages[20].Key)
	require.True(t, snap.HasMore)
}

func TestReconcileSkippedAfterLocalSend(t *testing.T) {
	be := newBackend()
	be.addConversation("a", "Alpha", 3)
	h := newHarness(t, be)
	ctx := context.Background()
	require.NoError(t, h.ctrl.SelectConversation(ctx, "a"))

	be.queueReply(chunkedReply("local reply"))
	require.NoError(t, h.ctrl.Send(ctx, "local question"))
	be.appendDoc("a", model.RoleUser, "server copy of question")
	be.appendDoc("a", model.RoleAssistant, "server copy of reply")

	h.clock.Advance(time.Second)
	require.Equal(t,
		[]string{"a message 1", "a message 2", "a message 3", "local question", "local reply"},
		contents(h.ctrl.Snapshot().Messages))
}

func TestReconcileForPreviousConversationNeverFires(t *testing.T) {
	be := newBackend()
	be.addConversation("a", "Alpha", 2)
	be.addConversation("b", "Beta", 2)
	h := newHarness(t, be)
	ctx := context.Background()
	require.NoError(t, h.ctrl.SelectConversation(ctx, "a"))
	require.NoError(t, h.ctrl.SelectConversation(ctx, "b"))
	require.Equal(t, 1, h.clock.Pending())

	be.appendDoc("a", model.RoleAssistant, "late tail of a")
	h.clock.Advance(time.Second)

	snap := h.ctrl.Snapshot()
	require.Equal(t, "b", snap.ActiveConversationID)
	require.Equal(t, []string{"b message 1", "b message 2"}, contents(snap.Messages))
}

func TestReconcileDisabled(t *testing.T) {
	be := newBackend()
	be.addConversation("a", "Alpha", 2)
	h := newHarness(t, be, func(o *Options) { o.Reconcile.Enabled = false })
	require.NoError(t, h.ctrl.SelectConversation(context.Background(), "a"))
	require.Zero(t, h.clock.Pending())
}

func TestSwitchAutoTitlesDefaultTitledConversation(t *testing.T) {
	be := newBackend()
	be.addConversation("fresh", defaultTitle, 2)
	be.addConversation("named", "Named", 2)
	h := newHarness(t, be)
	ctx := context.Background()
	require.NoError(t, h.ctrl.RefreshConversations(ctx))

	require.NoError(t, h.ctrl.SelectConversation(ctx, "fresh"))
	require.NoError(t, h.ctrl.SelectConversation(ctx, "named"))
	h.ctrl.Wait()

	require.Equal(t, "Generated title", be.renames["fresh"])
	require.Equal(t, []string{"fresh message 1"}, be.titleIn[0])

	// A conversation with a real title is left alone.
	require.NoError(t, h.ctrl.SelectConversation(ctx, "fresh"))
	h.ctrl.Wait()
	_, renamed := be.renames["named"]
	require.False(t, renamed)
}

func TestNewChatActivatesEmptyConversation(t *testing.T) {
	be := newBackend()
	be.addConversation("a", defaultTitle, 2)
	h := newHarness(t, be)
	ctx := context.Background()
	require.NoError(t, h.ctrl.RefreshConversations(ctx))
	require.NoError(t, h.ctrl.SelectConversation(ctx, "a"))

	conv, err := h.ctrl.NewChat(ctx)
	require.NoError(t, err)
	h.ctrl.Wait()

	snap := h.ctrl.Snapshot()
	require.Equal(t, conv.ID, snap.ActiveConversationID)
	require.Empty(t, snap.Messages)
	_, listed := model.FindConversation(snap.Conversations, conv.ID)
	require.True(t, listed)
	require.Equal(t, "Generated title", be.renames["a"])

	// The first send to the new conversation refreshes the list once more.
	calls := be.conversationListCalls()
	require.NoError(t, h.ctrl.Send(ctx, "first words"))
	require.Equal(t, calls+1, be.conversationListCalls())
}

func TestRenameAndDelete(t *testing.T) {
	be := newBackend()
	be.addConversation("a", "Alpha", 2)
	be.addConversation("b", "Beta", 2)
	h := newHarness(t, be)
	ctx := context.Background()
	require.NoError(t, h.ctrl.SelectConversation(ctx, "a"))

	require.ErrorIs(t, h.ctrl.Rename(ctx, "a", "  "), ErrEmptyTitle)
	require.NoError(t, h.ctrl.Rename(ctx, "a", "  Renamed "))
	conv, ok := model.FindConversation(h.ctrl.Snapshot().Conversations, "a")
	require.True(t, ok)
	require.Equal(t, "Renamed", conv.Title)

	require.NoError(t, h.ctrl.Delete(ctx, "a"))
	snap := h.ctrl.Snapshot()
	require.Empty(t, snap.ActiveConversationID)
	require.Empty(t, snap.Messages)
	_, ok = model.FindConversation(snap.Conversations, "a")
	require.False(t, ok)
	require.Zero(t, h.clock.Pending())
}

func TestModelSelection(t *testing.T) {
	be := newBackend()
	h := newHarness(t, be)

	require.NoError(t, h.ctrl.SelectModel("anything"))
	require.NoError(t, h.ctrl.LoadModels(context.Background()))
	require.Equal(t, "m1", h.ctrl.Snapshot().SelectedModel)

	require.NoError(t, h.ctrl.SelectModel("m2"))
	require.Equal(t, "m2", h.ctrl.Snapshot().SelectedModel)
	require.ErrorIs(t, h.ctrl.SelectModel("missing"), ErrUnknownModel)
	require.Equal(t, "m2", h.ctrl.Snapshot().SelectedModel)
}

func TestSlowConversationListingDoesNotOverwriteNewerOne(t *testing.T) {
	be := newBackend()
	be.addConversation("a", defaultTitle, 2)
	gate := make(chan struct{})
	be.listGates[1] = gate
	h := newHarness(t, be)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.ctrl.RefreshConversations(ctx) }()
	require.Eventually(t, func() bool { return be.conversationListCalls() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.ctrl.Rename(ctx, "a", "Renamed"))
	close(gate)
	require.NoError(t, <-done)

	conv, ok := model.FindConversation(h.ctrl.Snapshot().Conversations, "a")
	require.True(t, ok)
	require.Equal(t, "Renamed", conv.Title)
}

func TestSelectionDuringNewChatCreateWins(t *testing.T) {
	be := newBackend()
	be.addConversation("a", "Alpha", 2)
	be.addConversation("b", "Beta", 2)
	be.createGate = make(chan struct{})
	h := newHarness(t, be)
	ctx := context.Background()
	require.NoError(t, h.ctrl.SelectConversation(ctx, "a"))

	type result struct {
		conv *model.Conversation
		err  error
	}
	created := make(chan result, 1)
	go func() {
		conv, err := h.ctrl.NewChat(ctx)
		created <- result{conv, err}
	}()
	require.Eventually(t, func() bool { return be.createCallCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.ctrl.SelectConversation(ctx, "b"))
	close(be.createGate)
	res := <-created
	require.NoError(t, res.err)

	snap := h.ctrl.Snapshot()
	require.Equal(t, "b", snap.ActiveConversationID)
	require.Equal(t, []string{"b message 1", "b message 2"}, contents(snap.Messages))
	_, listed := model.FindConversation(snap.Conversations, res.conv.ID)
	require.True(t, listed)
}
