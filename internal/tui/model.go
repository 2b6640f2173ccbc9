package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"forge-agent/internal/app"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
)

const inputHeight = 3

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Message is one entry in the transcript.
type Message struct {
	Role    string // user, assistant, system, status, tool, error
	Content string
	Diff    string
	Time    time.Time
}

type turnEventMsg struct {
	ev app.AgentEvent
}

type turnDoneMsg struct {
	result *app.TurnResult
	err    error
}

type commandDoneMsg struct {
	res app.CommandResult
	err error
}

// confirmAskMsg surfaces a pending approval from the agent goroutine. The
// reply channel is buffered so the UI never blocks on it.
type confirmAskMsg struct {
	title string
	body  string
	diff  string
	reply chan bool
}

type spinMsg struct{}

// Model is the interactive chat frontend.
type Model struct {
	app      *app.App
	theme    Theme
	keys     keyMap
	markdown *MarkdownRenderer
	diff     *DiffRenderer

	width  int
	height int
	ready  bool

	input    textarea.Model
	vp       viewport.Model
	messages []Message

	// recalled holds the last history entry placed into the input, so a
	// further Up/Down keeps browsing instead of moving the cursor.
	recalled   string
	slashIndex int

	running    bool // an agent turn is in flight
	busy       bool // a slash command is in flight
	statusText string
	spinnerPos int
	streamBuf  string

	cancel     context.CancelFunc
	eventsCh   chan app.AgentEvent
	turnDoneCh chan turnDoneMsg
	cmdDoneCh  chan commandDoneMsg
	confirmCh  chan confirmAskMsg

	confirmActive bool
	confirmAsk    confirmAskMsg
	confirmChoice int
}

// New builds the model and installs the confirmation hooks that route
// approval requests from the agent goroutine into the update loop.
func New(application *app.App) *Model {
	theme := NewTheme()

	ta := textarea.New()
	ta.Placeholder = "Describe a task, or type / for commands"
	ta.Prompt = "┃ "
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.ShowLineNumbers = false
	ta.Focus()

	m := &Model{
		app:        application,
		theme:      theme,
		keys:       defaultKeyMap(),
		markdown:   NewMarkdownRenderer(theme),
		diff:       NewDiffRenderer(theme),
		input:      ta,
		statusText: "Ready",
		confirmCh:  make(chan confirmAskMsg),
	}

	application.SetConfirm(func(req app.ConfirmRequest) bool {
		reply := make(chan bool, 1)
		m.confirmCh <- confirmAskMsg{
			title: "Approve change?",
			body:  fmt.Sprintf("%s on %s", req.Tool, req.Path),
			diff:  req.Diff,
			reply: reply,
		}
		return <-reply
	})
	application.ConfirmLoad = func(files, totalBytes int) bool {
		reply := make(chan bool, 1)
		m.confirmCh <- confirmAskMsg{
			title: "Load context?",
			body:  fmt.Sprintf("Stage %d files (%d bytes) into every turn", files, totalBytes),
			reply: reply,
		}
		return <-reply
	}

	m.messages = append(m.messages, Message{
		Role:    "system",
		Content: m.welcomeText(),
		Time:    time.Now(),
	})
	return m
}

func (m *Model) welcomeText() string {
	p := m.app.Config.Provider()
	var b strings.Builder
	b.WriteString("Autonomous AI Agent (Tool-Calling Mode)\n")
	fmt.Fprintf(&b, "Provider: %s · Model: %s", m.app.Config.ActiveProvider, p.Model)
	if m.app.MockMode {
		b.WriteString(" (mock)")
	}
	b.WriteString("\n\n")
	if m.app.Workspace == nil {
		b.WriteString("No workspace set. Use /workspace <path> before asking for changes.\n")
	}
	b.WriteString("Enter inserts a newline, Ctrl+J sends. Type /help for commands.")
	return b.String()
}

func (m *Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.vp = viewport.New(max(20, m.width-2), max(3, m.height-inputHeight-5))
			m.ready = true
		}
		m.syncLayout()
		m.refreshTranscript()
		m.vp.GotoBottom()
		return m, nil

	case spinMsg:
		if !m.running && !m.busy {
			return m, nil
		}
		m.spinnerPos = (m.spinnerPos + 1) % len(spinnerFrames)
		return m, m.spinTick()

	case confirmAskMsg:
		m.confirmActive = true
		m.confirmAsk = msg
		m.confirmChoice = 0
		m.syncLayout()
		return m, nil

	case turnEventMsg:
		m.applyEvent(msg.ev)
		if m.running {
			return m, m.waitTurn()
		}
		return m, nil

	case turnDoneMsg:
		return m.onTurnDone(msg)

	case commandDoneMsg:
		return m.onCommandDone(msg)

	case tea.KeyMsg:
		return m.onKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) onKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirmActive {
		return m.onConfirmKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.running || m.busy {
			if m.cancel != nil {
				m.cancel()
			}
			m.statusText = "Cancelling..."
			return m, nil
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Send):
		return m, m.onSend()

	case key.Matches(msg, m.keys.PageUp):
		m.vp.ViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.vp.ViewDown()
		return m, nil
	}

	if items := slashMatches(m.input.Value()); len(items) > 0 {
		switch {
		case msg.String() == "up":
			m.slashIndex = (m.slashIndex - 1 + len(items)) % len(items)
			return m, nil
		case msg.String() == "down":
			m.slashIndex = (m.slashIndex + 1) % len(items)
			return m, nil
		case key.Matches(msg, m.keys.Complete):
			m.input.SetValue(items[min(m.slashIndex, len(items)-1)].Name + " ")
			m.slashIndex = 0
			m.syncLayout()
			return m, nil
		}
	}

	// Up/Down recall history when the input is empty or still showing a
	// recalled entry; otherwise the textarea moves its cursor as usual.
	browsing := m.input.Value() == "" || (m.recalled != "" && m.input.Value() == m.recalled)
	if browsing {
		switch msg.String() {
		case "up":
			if entry, ok := m.app.Session.History.Previous(); ok {
				m.input.SetValue(entry)
				m.recalled = entry
			}
			return m, nil
		case "down":
			entry := m.app.Session.History.Next()
			m.input.SetValue(entry)
			m.recalled = entry
			return m, nil
		}
	}

	wasSlash := len(slashMatches(m.input.Value())) > 0
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if wasSlash != (len(slashMatches(m.input.Value())) > 0) {
		m.slashIndex = 0
		m.syncLayout()
	}
	return m, cmd
}

func (m *Model) onConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.confirmChoice = 0
		return m, nil
	case "down", "j":
		m.confirmChoice = 1
		return m, nil
	case "1", "y":
		return m, m.resolveConfirm(true)
	case "2", "n", "esc":
		return m, m.resolveConfirm(false)
	case "enter":
		return m, m.resolveConfirm(m.confirmChoice == 0)
	case "ctrl+c":
		cmd := m.resolveConfirm(false)
		if m.cancel != nil {
			m.cancel()
			m.statusText = "Cancelling..."
		}
		return m, cmd
	}
	return m, nil
}

// resolveConfirm answers the waiting goroutine, records the decision in the
// transcript, and re-arms whichever wait command was interrupted.
func (m *Model) resolveConfirm(allow bool) tea.Cmd {
	m.confirmAsk.reply <- allow

	entry := Message{Role: "tool", Time: time.Now()}
	if allow {
		entry.Content = "✔ approved: " + m.confirmAsk.body
		entry.Diff = m.confirmAsk.diff
	} else {
		entry.Content = "✖ denied: " + m.confirmAsk.body
	}
	m.confirmActive = false
	m.confirmAsk = confirmAskMsg{}
	m.appendMessage(entry)
	m.syncLayout()

	if m.running {
		return m.waitTurn()
	}
	if m.busy {
		return m.waitCommand()
	}
	return nil
}

func (m *Model) onSend() tea.Cmd {
	input := strings.TrimSpace(m.input.Value())
	if input == "" {
		return nil
	}
	if m.running || m.busy {
		m.appendMessage(Message{Role: "system", Content: "A turn is already running. Ctrl+C cancels it.", Time: time.Now()})
		return nil
	}

	m.app.Session.History.Add(input)
	m.input.Reset()
	m.recalled = ""
	m.slashIndex = 0
	m.syncLayout()
	m.appendMessage(Message{Role: "user", Content: input, Time: time.Now()})

	if app.IsCommand(input) {
		return m.startCommand(input)
	}
	return m.startTurn(input)
}

// startCommand runs a slash command off the update loop; /load can block on
// a confirmation, which only the update loop can answer.
func (m *Model) startCommand(input string) tea.Cmd {
	m.busy = true
	m.statusText = "Running command..."
	m.spinnerPos = 0

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	done := make(chan commandDoneMsg, 1)
	m.cmdDoneCh = done
	go func() {
		res, err := m.app.RunCommand(ctx, input)
		done <- commandDoneMsg{res: res, err: err}
	}()

	return tea.Batch(m.waitCommand(), m.spinTick())
}

func (m *Model) startTurn(input string) tea.Cmd {
	m.running = true
	m.statusText = "Agent is working..."
	m.spinnerPos = 0
	m.streamBuf = ""

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	events := make(chan app.AgentEvent, 256)
	done := make(chan turnDoneMsg, 1)
	m.eventsCh = events
	m.turnDoneCh = done

	m.app.Agent.OnEvent = func(ev app.AgentEvent) {
		select {
		case events <- ev:
		default:
			// Drop when the UI lags; the final result still lands.
		}
	}

	go func() {
		result, err := m.app.Agent.RunTurn(ctx, input)
		done <- turnDoneMsg{result: result, err: err}
		close(events)
	}()

	return tea.Batch(m.waitTurn(), m.spinTick())
}

func (m *Model) waitTurn() tea.Cmd {
	events, done, confirm := m.eventsCh, m.turnDoneCh, m.confirmCh
	return func() tea.Msg {
		if events == nil || done == nil {
			return nil
		}
		select {
		case ev, ok := <-events:
			if ok {
				return turnEventMsg{ev: ev}
			}
			return <-done
		case ask := <-confirm:
			return ask
		case d := <-done:
			return d
		}
	}
}

func (m *Model) waitCommand() tea.Cmd {
	done, confirm := m.cmdDoneCh, m.confirmCh
	return func() tea.Msg {
		if done == nil {
			return nil
		}
		select {
		case d := <-done:
			return d
		case ask := <-confirm:
			return ask
		}
	}
}

func (m *Model) spinTick() tea.Cmd {
	return tea.Tick(90*time.Millisecond, func(time.Time) tea.Msg {
		return spinMsg{}
	})
}

func (m *Model) applyEvent(ev app.AgentEvent) {
	switch ev.Kind {
	case app.EventStatus:
		m.statusText = ev.Content
		m.appendMessage(Message{Role: "status", Content: ev.Content, Time: time.Now()})
	case app.EventDelta:
		m.streamBuf += ev.Content
		m.refreshTranscript()
		m.vp.GotoBottom()
	case app.EventText:
		m.streamBuf = ""
		m.appendMessage(Message{Role: "assistant", Content: ev.Content, Time: time.Now()})
	case app.EventToolCall:
		if ev.Call != nil {
			line := fmt.Sprintf("›› %s %s", ev.Call.Function.Name, compactLine(ev.Call.Function.Arguments, 100))
			m.appendMessage(Message{Role: "tool", Content: line, Time: time.Now()})
		}
	case app.EventToolResult:
		if ev.Result != nil {
			var line string
			if ev.Result.Success {
				line = fmt.Sprintf("✔ %s (%dms)", ev.Result.Name, ev.Result.DurationMs)
			} else {
				line = fmt.Sprintf("✖ %s: %s", ev.Result.Name, compactLine(ev.Result.Error, 200))
			}
			m.appendMessage(Message{Role: "tool", Content: line, Time: time.Now()})
		}
	}
}

func (m *Model) onTurnDone(msg turnDoneMsg) (tea.Model, tea.Cmd) {
	m.running = false
	m.statusText = "Ready"
	m.cancel = nil
	m.eventsCh = nil
	m.turnDoneCh = nil
	m.streamBuf = ""

	switch {
	case msg.err != nil:
		m.appendMessage(Message{Role: "error", Content: "Error: " + msg.err.Error(), Time: time.Now()})
	case msg.result != nil && msg.result.TaskFinished:
		m.appendMessage(Message{Role: "system", Content: "✅ Task Completed.", Time: time.Now()})
	case msg.result != nil && msg.result.StepLimitHit:
		limit := m.app.Agent.MaxSteps
		if limit <= 0 {
			limit = app.DefaultMaxSteps
		}
		m.appendMessage(Message{
			Role:    "system",
			Content: fmt.Sprintf("⚠️ Safety Limit Reached (%d turns). Pausing execution.\nType 'continue' to resume or enter a new prompt.", limit),
			Time:    time.Now(),
		})
	default:
		m.refreshTranscript()
		m.vp.GotoBottom()
	}
	return m, nil
}

func (m *Model) onCommandDone(msg commandDoneMsg) (tea.Model, tea.Cmd) {
	m.busy = false
	m.statusText = "Ready"
	m.cancel = nil
	m.cmdDoneCh = nil

	if msg.err != nil {
		m.appendMessage(Message{Role: "error", Content: "Error: " + msg.err.Error(), Time: time.Now()})
		return m, nil
	}
	if msg.res.NewChat {
		m.messages = nil
	}
	if msg.res.Message != "" {
		m.appendMessage(Message{Role: "system", Content: msg.res.Message, Time: time.Now()})
	} else {
		m.refreshTranscript()
		m.vp.GotoBottom()
	}
	if msg.res.Quit {
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) appendMessage(msg Message) {
	m.messages = append(m.messages, msg)
	m.refreshTranscript()
	m.vp.GotoBottom()
}

func (m *Model) refreshTranscript() {
	width := max(20, m.vp.Width-2)
	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderMessage(msg, width))
	}
	if m.streamBuf != "" {
		if len(m.messages) > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.theme.RoleAgent.Render("Agent"))
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Width(width).Render(m.streamBuf))
	}
	m.vp.SetContent(b.String())
}

func (m *Model) renderMessage(msg Message, width int) string {
	t := m.theme
	meta := t.TopBarMeta.Render(msg.Time.Format("15:04"))
	switch msg.Role {
	case "user":
		body := lipgloss.NewStyle().Width(width).Render(msg.Content)
		return t.RoleYou.Render("You") + " " + meta + "\n" + body
	case "assistant":
		return t.RoleAgent.Render("Agent") + " " + meta + "\n" + m.markdown.Render(msg.Content, width)
	case "status":
		return t.StatusLine.Render("• " + msg.Content)
	case "tool":
		var line string
		switch {
		case strings.HasPrefix(msg.Content, "✔"):
			line = t.ToolOK.Render(msg.Content)
		case strings.HasPrefix(msg.Content, "✖"):
			line = t.ToolErr.Render(msg.Content)
		default:
			line = t.ToolLine.Render(msg.Content)
		}
		if msg.Diff != "" {
			line += "\n" + m.diff.Render(msg.Diff, width)
		}
		return line
	case "error":
		return t.RoleErr.Render("Error") + " " + meta + "\n" +
			lipgloss.NewStyle().Foreground(t.Error).Width(width).Render(msg.Content)
	default:
		return t.RoleSys.Width(width).Render(msg.Content)
	}
}

func (m *Model) View() string {
	if !m.ready {
		return "\n  Starting..."
	}
	m.syncLayout()

	sections := []string{m.renderTopBar(), m.vp.View()}
	if m.confirmActive {
		sections = append(sections, m.renderConfirm())
	} else {
		if popup := m.renderSlashPopup(); popup != "" {
			sections = append(sections, popup)
		}
		sections = append(sections, m.theme.InputBox.Width(max(10, m.width-2)).Render(m.input.View()))
	}
	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// syncLayout recomputes the viewport height around whatever is stacked
// below it (input box, popup, or confirm modal).
func (m *Model) syncLayout() {
	if !m.ready {
		return
	}
	bottom := inputHeight + 2 // input plus its border
	if m.confirmActive {
		bottom = lipgloss.Height(m.renderConfirm())
	} else if popup := m.renderSlashPopup(); popup != "" {
		bottom += lipgloss.Height(popup)
	}
	m.vp.Width = max(20, m.width-2)
	m.vp.Height = max(3, m.height-2-bottom)
	m.input.SetWidth(max(10, m.width-6))
}

func (m *Model) renderTopBar() string {
	t := m.theme
	left := t.TopBarTitle.Render("forge") + " " +
		t.TopBarBadge.Render(m.app.Config.ActiveProvider+":"+m.app.Config.Provider().Model)

	var status string
	if m.running || m.busy {
		status = t.Spinner.Render(spinnerFrames[m.spinnerPos] + " " + m.statusText)
	} else {
		status = t.TopBarMeta.Render(m.statusText)
	}

	ws := "no workspace"
	if m.app.Workspace != nil {
		ws = m.app.Workspace.Root()
	}
	right := t.TopBarMeta.Render(truncate.StringWithTail(ws, 40, "…"))

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(status) - lipgloss.Width(right)
	if gap < 2 {
		gap = 2
	}
	pad := gap / 2
	return t.TopBar.Render(left + strings.Repeat(" ", pad) + status + strings.Repeat(" ", gap-pad) + right)
}

func (m *Model) renderFooter() string {
	return m.theme.Footer.Render(truncate.StringWithTail(footerHints, uint(max(20, m.width-2)), "…"))
}

func (m *Model) renderConfirm() string {
	t := m.theme
	width := max(30, m.width-4)

	var b strings.Builder
	b.WriteString(t.ModalTitle.Render(m.confirmAsk.title))
	b.WriteString("\n")
	b.WriteString(t.ModalRow.Render(truncate.StringWithTail(m.confirmAsk.body, uint(max(20, width-4)), "…")))
	if m.confirmAsk.diff != "" {
		b.WriteString("\n\n")
		b.WriteString(m.diff.Render(m.confirmAsk.diff, width-4))
	}
	b.WriteString("\n\n")
	options := []string{"1. Allow", "2. Deny"}
	for i, opt := range options {
		style, prefix := t.ModalRow, "  "
		if i == m.confirmChoice {
			style, prefix = t.ModalActive, "› "
		}
		b.WriteString(style.Render(prefix + opt))
		b.WriteString("\n")
	}
	b.WriteString(t.StatusLine.Render("↑/↓ choose · enter confirm · esc deny"))
	return t.Modal.Width(width).Render(b.String())
}

func (m *Model) renderSlashPopup() string {
	items := slashMatches(m.input.Value())
	if len(items) == 0 {
		return ""
	}
	if len(items) > 6 {
		items = items[:6]
	}
	sel := min(m.slashIndex, len(items)-1)

	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		style, prefix := m.theme.PopupItem, "  "
		if i == sel {
			style, prefix = m.theme.PopupSel, "› "
		}
		b.WriteString(style.Render(prefix + it.Name))
		b.WriteString(" ")
		b.WriteString(m.theme.PopupDesc.Render(it.Description))
	}
	return m.theme.PopupBox.Width(max(30, m.width-2)).Render(b.String())
}

func compactLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if runes := []rune(s); len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return s
}
