package console

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"onebridge/pkg/onebot"
)

const wheelStep = 3

type entry struct {
	role    string
	scope   string
	content string
	meta    string
}

type dispatchResultMsg struct {
	reply Reply
	err   error
}

type model struct {
	ctx      context.Context
	dispatch DispatchFunc
	identity Identity

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	isLoading bool
	lastErr   string
	followLog bool

	inGroup   bool
	messageID int64
	replies   int
}

func newModel(ctx context.Context, dispatch DispatchFunc, identity Identity) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Type a message, :group [id] or :private to switch"
	in.Focus()
	in.CharLimit = 0

	return &model{
		ctx:       ctx,
		dispatch:  dispatch,
		identity:  identity,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.handleViewportKey(typed) {
			return m, nil
		}

		if typed.String() == "enter" {
			if m.isLoading {
				return m, nil
			}

			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if isExitCommand(text) {
				return m, tea.Quit
			}
			m.input.SetValue("")

			if m.handleCommand(text) {
				m.refreshViewport(true)
				return m, nil
			}

			event := m.nextEvent(text)
			m.lastErr = ""
			m.entries = append(m.entries, entry{role: "user", scope: m.scope(), content: text})
			m.isLoading = true
			m.followLog = true
			m.refreshViewport(true)
			return m, tea.Batch(m.spinner.Tick, dispatchCmd(m.ctx, m.dispatch, event))
		}
	}

	m.input, cmd = m.input.Update(msg)

	switch typed := msg.(type) {
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case dispatchResultMsg:
		m.isLoading = false
		m.entries = append(m.entries, m.resultEntry(typed))
		m.refreshViewport(false)
	}

	return m, cmd
}

func (m *model) resultEntry(result dispatchResultMsg) entry {
	if result.err != nil {
		m.lastErr = result.err.Error()
		return entry{role: "error", content: result.err.Error()}
	}

	m.lastErr = ""
	reply := result.reply
	if reply.Text == "" {
		return entry{role: "note", content: describeSilence(reply), meta: routeLine(reply)}
	}

	m.replies++
	return entry{role: "bot", scope: reply.Action, content: reply.Text, meta: routeLine(reply)}
}

// handleCommand applies console-only commands that switch the simulated conversation.
func (m *model) handleCommand(text string) bool {
	fields := strings.Fields(text)
	switch strings.ToLower(fields[0]) {
	case ":private":
		m.inGroup = false
	case ":group":
		if len(fields) > 1 {
			id, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil || id <= 0 {
				m.entries = append(m.entries, entry{role: "error", content: fmt.Sprintf("invalid group id %q", fields[1])})
				return true
			}
			m.identity.GroupID = id
		}
		m.inGroup = true
	default:
		return false
	}

	m.entries = append(m.entries, entry{role: "note", content: "now chatting in " + m.scope()})
	return true
}

func (m *model) nextEvent(text string) onebot.MessageEvent {
	m.messageID++
	event := onebot.MessageEvent{
		Type:           onebot.KindPrivate,
		MessageID:      m.messageID,
		SenderID:       m.identity.UserID,
		SenderNickname: m.identity.Nickname,
		RawText:        text,
		Time:           time.Now(),
	}
	if m.inGroup {
		event.Type = onebot.KindGroup
		event.GroupID = m.identity.GroupID
	}
	return event
}

func (m *model) scope() string {
	if m.inGroup {
		return fmt.Sprintf("group %d", m.identity.GroupID)
	}
	return fmt.Sprintf("private %d", m.identity.UserID)
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("onebridge console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"as:%s(%d) · chat:%s · provider:%s · model:%s · sent:%d · replies:%d",
		displayOrNA(m.identity.Nickname),
		m.identity.UserID,
		m.scope(),
		displayOrNA(m.identity.Provider),
		displayOrNA(m.identity.Model),
		int(m.messageID),
		m.replies,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("Enter send · PgUp/PgDn scroll · End jump latest · Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s dispatching...", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("last dispatch failed, try again")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render(m.identity.Nickname)+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-10)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		sections = append(sections, m.renderEntry(item))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderEntry(item entry) string {
	body := strings.TrimSpace(item.content)
	if item.meta != "" {
		body = strings.TrimSpace(body + "\n\n" + m.theme.hint.Render(item.meta))
	}

	switch item.role {
	case "user":
		return renderCard(m.theme.userTitle.Render("you · "+item.scope), m.theme.userBox.Width(m.viewport.Width).Render(body))
	case "bot":
		return renderCard(m.theme.botTitle.Render("bot · "+item.scope), m.theme.botBox.Width(m.viewport.Width).Render(body))
	case "error":
		return renderCard(m.theme.errorTitle.Render("error"), m.theme.errorBox.Width(m.viewport.Width).Render(body))
	default:
		return renderCard(m.theme.noteTitle.Render("note"), m.theme.noteBox.Width(m.viewport.Width).Render(body))
	}
}

func renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.SetYOffset(max(0, m.viewport.YOffset-wheelStep))
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
		m.viewport.SetYOffset(min(maxOffset, m.viewport.YOffset+wheelStep))
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func dispatchCmd(ctx context.Context, dispatch DispatchFunc, event onebot.MessageEvent) tea.Cmd {
	return func() tea.Msg {
		reply, err := dispatch(ctx, event)
		return dispatchResultMsg{reply: reply, err: err}
	}
}

func describeSilence(reply Reply) string {
	switch reply.Route {
	case "blocked":
		return "group is disabled, message was not answered"
	case "suppressed":
		return "a plugin suppressed the reply"
	case "no_answer":
		return "backend returned no usable answer"
	default:
		return "no reply"
	}
}

func routeLine(reply Reply) string {
	route := "route:" + displayOrNA(reply.Route)
	if reply.Plugin != "" {
		route += " · plugin:" + reply.Plugin
	}
	return route
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
