// Package tui is the terminal front end of the chat controller.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/capitalize-ai/chatdesk/internal/controller"
	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/internal/pagination"
	"github.com/capitalize-ai/chatdesk/internal/scroll"
)

// Controller is the controller surface the terminal view drives.
type Controller interface {
	Snapshot() model.Snapshot
	Subscribe() (<-chan model.Snapshot, func())
	SelectConversation(ctx context.Context, id string) error
	NewChat(ctx context.Context) (*model.Conversation, error)
	Start(ctx context.Context, text string) (<-chan error, error)
	LoadOlder(ctx context.Context) (*pagination.Page, error)
}

type focus int

const (
	focusInput focus = iota
	focusSidebar
)

type (
	snapshotMsg model.Snapshot
	closedMsg   struct{}
	errMsg      struct{ err error }
	olderMsg    struct {
		page *pagination.Page
		err  error
	}
)

// Model is the bubbletea model.
type Model struct {
	ctx       context.Context
	ctrl      Controller
	policy    *scroll.Policy
	snapshots <-chan model.Snapshot
	cancel    func()

	snap          model.Snapshot
	firstKey      string
	contentHeight int
	anchor        *scroll.Anchor

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	focus    focus
	cursor   int

	width  int
	height int
	ready  bool
	err    error
}

// New creates the model and subscribes to controller snapshots. Call Close
// once the program exits.
func New(ctx context.Context, ctrl Controller, policy *scroll.Policy) Model {
	ta := textarea.New()
	ta.Placeholder = "Message (enter to send, tab for conversations)"
	ta.ShowLineNumbers = false
	ta.CharLimit = 10000
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	snapshots, cancel := ctrl.Subscribe()
	return Model{
		ctx:       ctx,
		ctrl:      ctrl,
		policy:    policy,
		snapshots: snapshots,
		cancel:    cancel,
		snap:      ctrl.Snapshot(),
		input:     ta,
		spinner:   sp,
	}
}

// Close drops the snapshot subscription.
func (m Model) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.snapshots), textarea.Blink, m.spinner.Tick)
}

func waitForSnapshot(ch <-chan model.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(snap)
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.render(true)

	case snapshotMsg:
		m.apply(model.Snapshot(msg))
		cmds = append(cmds, waitForSnapshot(m.snapshots))

	case closedMsg:
		return m, tea.Quit

	case errMsg:
		if !errors.Is(msg.err, controller.ErrSuperseded) {
			m.err = msg.err
		}

	case olderMsg:
		if msg.err != nil && !errors.Is(msg.err, controller.ErrSuperseded) {
			m.err = msg.err
		}
		if msg.err != nil || msg.page == nil || len(msg.page.Messages) == 0 {
			m.anchor = nil
			m.policy.EndLoadOlder()
		} else if m.anchor != nil {
			// The prepend snapshot may have been coalesced into a later one.
			m.apply(m.ctrl.Snapshot())
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd, m.checkScroll())

	case tea.KeyMsg:
		cmd, quit := m.handleKey(msg)
		if quit {
			return m, tea.Quit
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return nil, true
	case "tab":
		m.toggleFocus()
		return nil, false
	case "ctrl+n":
		return m.newChat(), false
	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return tea.Batch(cmd, m.checkScroll()), false
	}

	if m.focus == focusSidebar {
		switch msg.String() {
		case "q", "esc":
			m.toggleFocus()
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.snap.Conversations)-1 {
				m.cursor++
			}
		case "n":
			return m.newChat(), false
		case "enter":
			if m.cursor < len(m.snap.Conversations) {
				return m.selectConversation(m.snap.Conversations[m.cursor].ID), false
			}
		}
		return nil, false
	}

	switch msg.String() {
	case "enter":
		return m.send(), false
	case "up", "down":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return tea.Batch(cmd, m.checkScroll()), false
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd, false
}

func (m *Model) toggleFocus() {
	if m.focus == focusInput {
		m.focus = focusSidebar
		m.input.Blur()
		return
	}
	m.focus = focusInput
	m.input.Focus()
}

func (m *Model) send() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	done, err := m.ctrl.Start(m.ctx, text)
	if err != nil {
		m.err = err
		return nil
	}
	m.err = nil
	m.input.Reset()
	return func() tea.Msg {
		if err := <-done; err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m *Model) selectConversation(id string) tea.Cmd {
	m.anchor = nil
	m.policy.Reset()
	m.focus = focusInput
	m.input.Focus()
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		if err := ctrl.SelectConversation(ctx, id); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m *Model) newChat() tea.Cmd {
	m.anchor = nil
	m.policy.Reset()
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		if _, err := ctrl.NewChat(ctx); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

// checkScroll reports the viewport to the scroll policy and starts a
// backward load when the policy claims one.
func (m *Model) checkScroll() tea.Cmd {
	if !m.ready {
		return nil
	}
	d := m.policy.OnScroll(m.viewportState(), m.snap.HasMore)
	if !d.LoadOlder {
		return nil
	}
	m.anchor = d.Anchor
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		page, err := ctrl.LoadOlder(ctx)
		return olderMsg{page: page, err: err}
	}
}

func (m *Model) viewportState() scroll.Viewport {
	return scroll.Viewport{
		Offset:        m.viewport.YOffset,
		Height:        m.viewport.Height,
		ContentHeight: m.contentHeight,
	}
}

// apply installs a snapshot and positions the viewport: follow the bottom
// when the policy says so, otherwise keep the reader's place, restoring
// the anchor after older messages were prepended.
func (m *Model) apply(snap model.Snapshot) {
	if snap.Revision < m.snap.Revision {
		return
	}
	before := m.viewportState()
	switchedTo := snap.ScrollToBottom != m.snap.ScrollToBottom
	// A local send may have been coalesced into a later stream snapshot.
	sent := snap.LocalAppends != m.snap.LocalAppends
	m.snap = snap
	if m.cursor >= len(snap.Conversations) {
		m.cursor = max(len(snap.Conversations)-1, 0)
	}
	if !m.ready {
		return
	}

	prepended := m.anchor != nil && len(snap.Messages) > 0 && snap.Messages[0].Key != m.firstKey && m.firstKey != ""
	m.render(false)

	switch {
	case prepended:
		m.viewport.SetYOffset(m.anchor.Restore(m.contentHeight))
		m.anchor = nil
		m.policy.EndLoadOlder()
	case switchedTo || sent || m.policy.ShouldFollow(before, snap.Change):
		m.viewport.GotoBottom()
	}
}

func (m *Model) layout() {
	chatWidth := m.width - sidebarWidth - 4
	if chatWidth < 20 {
		chatWidth = 20
	}
	inputHeight := 3
	vpHeight := m.height - inputHeight - 6
	if vpHeight < 3 {
		vpHeight = 3
	}

	if !m.ready {
		m.viewport = viewport.New(chatWidth, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = chatWidth
		m.viewport.Height = vpHeight
	}
	m.input.SetWidth(chatWidth)
}

func (m *Model) render(gotoBottom bool) {
	content := renderMessages(m.snap.Messages, m.viewport.Width)
	m.viewport.SetContent(content)
	m.contentHeight = lipgloss.Height(content)
	if len(m.snap.Messages) > 0 {
		m.firstKey = m.snap.Messages[0].Key
	} else {
		m.firstKey = ""
	}
	if gotoBottom {
		m.viewport.GotoBottom()
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	sidebar := sidebarPane
	chat := chatPane
	if m.focus == focusSidebar {
		sidebar = sidebar.BorderForeground(focusedBorder)
	} else {
		chat = chat.BorderForeground(focusedBorder)
	}

	left := sidebar.Width(sidebarWidth - 2).Height(m.height - 4).Render(m.renderSidebar())
	right := lipgloss.JoinVertical(lipgloss.Left,
		chat.Render(m.viewport.View()),
		m.input.View(),
		m.renderStatus(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func (m Model) renderSidebar() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Conversations"))
	sb.WriteString("\n\n")
	if len(m.snap.Conversations) == 0 {
		sb.WriteString(hintStyle.Render("none yet"))
		return sb.String()
	}
	for i, c := range m.snap.Conversations {
		marker := "  "
		if c.ID == m.snap.ActiveConversationID {
			marker = activeMarkerStyle.Render("● ")
		}
		title := truncate(c.Title, sidebarWidth-8)
		style := itemStyle
		if m.focus == focusSidebar && i == m.cursor {
			style = cursorItemStyle
		}
		sb.WriteString(marker + style.Render(title) + "\n")
	}
	sb.WriteString("\n")
	sb.WriteString(hintStyle.Render("enter open · n new · tab back"))
	return sb.String()
}

func (m Model) renderStatus() string {
	if m.err != nil {
		return errorStyle.Render(m.err.Error())
	}
	var parts []string
	if m.snap.SelectedModel != "" {
		parts = append(parts, "model: "+m.snap.SelectedModel)
	}
	switch {
	case m.snap.Loading:
		parts = append(parts, m.spinner.View()+" replying")
	case m.snap.LoadingOlder:
		parts = append(parts, m.spinner.View()+" loading history")
	case m.snap.HasMore:
		parts = append(parts, "scroll up for older messages")
	}
	return statusStyle.Render(strings.Join(parts, " · "))
}

func renderMessages(msgs []model.Message, width int) string {
	if len(msgs) == 0 {
		return hintStyle.Render("Start a conversation.")
	}
	body := bodyStyle.Width(width)
	failed := failedStyle.Width(width)

	var sb strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if msg.Role == model.RoleUser {
			sb.WriteString(userLabelStyle.Render("You"))
		} else {
			sb.WriteString(assistantLabelStyle.Render("Assistant"))
		}
		sb.WriteString("\n")

		content := msg.Content
		if msg.Streaming {
			content += "▍"
		}
		if msg.Failed {
			sb.WriteString(failed.Render(content))
		} else {
			sb.WriteString(body.Render(content))
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return fmt.Sprintf("%s…", string(r[:n-1]))
}
