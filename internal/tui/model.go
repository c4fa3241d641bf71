// Package tui is the interactive terminal chat built on Bubble Tea.
package tui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/chat"
	"ragchat/internal/domain"
	"ragchat/internal/index"
	"ragchat/internal/render"
	"ragchat/internal/session"
)

// Backend is the part of the application the chat UI talks to.
type Backend interface {
	NewSession() *session.Session
	Reload(ctx context.Context) (bool, error)
	Summary() string
	Stats() index.Stats
	Model() string
}

type turnStartedMsg struct{ turn *chat.Turn }

type tokenMsg struct {
	turn  *chat.Turn
	token string
}

type turnDoneMsg struct{ turn *chat.Turn }

type turnErrMsg struct {
	turn *chat.Turn
	err  error
}

type reloadMsg struct {
	changed bool
	err     error
}

// Model is the Bubble Tea model of the chat screen.
type Model struct {
	ctx     context.Context
	backend Backend
	logger  *slog.Logger
	copyFn  func(string) error

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	session *session.Session
	turn    *chat.Turn

	// partial is the answer streamed so far by the running turn
	partial    string
	sources    []domain.SearchResult
	query      string
	lastAnswer string

	streaming bool
	reloading bool
	status    string
	err       error
	ready     bool
	width     int
	height    int
}

// New creates the chat model with a fresh session from backend.
func New(ctx context.Context, backend Backend, logger *slog.Logger) Model {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ta := textarea.New()
	ta.Placeholder = "Ask a question"
	ta.CharLimit = 4000
	ta.ShowLineNumbers = false
	ta.SetHeight(2)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(colorTextDim)
	ta.BlurredStyle = ta.FocusedStyle
	ta.Focus()

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = loadingStyle

	return Model{
		ctx:      ctx,
		backend:  backend,
		logger:   logger,
		copyFn:   clipboard.WriteAll,
		textarea: ta,
		spinner:  s,
		session:  backend.NewSession(),
		status:   "Ready.",
	}
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		headerHeight := 3
		inputHeight := 4
		footerHeight := 3
		vpHeight := max(5, m.height-headerHeight-inputHeight-footerHeight-2)
		contentWidth := max(20, m.width-4)
		if !m.ready {
			m.viewport = viewport.New(contentWidth, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = contentWidth
			m.viewport.Height = vpHeight
		}
		m.textarea.SetWidth(contentWidth - 4)
		m.updateViewport()
		m.viewport.GotoBottom()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancelTurn()
			return m, tea.Quit
		case "esc":
			if m.streaming {
				m.turn.Cancel()
				m.status = "Cancelling..."
				return m, nil
			}
			return m, tea.Quit
		case "ctrl+y":
			m.copyLastAnswer()
			return m, nil
		case "enter":
			if m.streaming || m.reloading {
				return m, nil
			}
			return m.submit(strings.TrimSpace(m.textarea.Value()))
		}

	case turnStartedMsg:
		if msg.turn != m.turn {
			return m, nil
		}
		m.sources = msg.turn.Sources()
		m.query = msg.turn.Query()
		m.updateViewport()
		m.viewport.GotoBottom()
		return m, nextToken(msg.turn)

	case tokenMsg:
		if msg.turn != m.turn {
			return m, nil
		}
		m.partial += msg.token
		m.updateViewport()
		m.viewport.GotoBottom()
		return m, nextToken(msg.turn)

	case turnDoneMsg:
		if msg.turn != m.turn {
			return m, nil
		}
		m.streaming = false
		m.lastAnswer = msg.turn.Text()
		m.partial = ""
		m.status = fmt.Sprintf("Answered from %d passage(s).", len(m.sources))
		m.updateViewport()
		m.viewport.GotoBottom()
		return m, nil

	case turnErrMsg:
		if msg.turn != m.turn {
			return m, nil
		}
		m.streaming = false
		m.partial = ""
		m.sources = nil
		m.err = msg.err
		m.status = "Press Enter or type /retry to try again."
		m.updateViewport()
		return m, nil

	case reloadMsg:
		m.reloading = false
		if msg.err != nil {
			m.err = msg.err
			m.status = "Reload failed; the previous index is still in use."
			return m, nil
		}
		if msg.changed {
			m.resetSession()
			st := m.backend.Stats()
			m.status = fmt.Sprintf("Corpus reloaded: %d documents, %d chunks. New session started.", st.Documents, st.Chunks)
		} else {
			m.status = "Corpus unchanged."
		}
		m.updateViewport()
		return m, nil

	case spinner.TickMsg:
		if m.streaming || m.reloading {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	if !m.streaming {
		if _, ok := msg.(tea.KeyMsg); ok {
			m.textarea, cmd = m.textarea.Update(msg)
			cmds = append(cmds, cmd)
		}
	}
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit handles one line of input: a chat command or a question.
func (m Model) submit(input string) (tea.Model, tea.Cmd) {
	switch input {
	case "":
		if m.session.Pending() {
			return m.startTurn()
		}
		return m, nil
	case "/quit", "/exit", "quit", "exit":
		return m, tea.Quit
	case "/reset":
		m.textarea.Reset()
		m.resetSession()
		m.status = "New session started."
		m.updateViewport()
		return m, nil
	case "/reload":
		m.textarea.Reset()
		m.reloading = true
		m.err = nil
		m.status = "Reloading corpus..."
		return m, tea.Batch(m.reload(), m.spinner.Tick)
	case "/retry":
		m.textarea.Reset()
		if !m.session.Pending() {
			m.status = "Nothing to retry."
			return m, nil
		}
		return m.startTurn()
	}

	if err := m.session.Ask(input); err != nil {
		m.err = err
		return m, nil
	}
	m.textarea.Reset()
	return m.startTurn()
}

func (m Model) startTurn() (tea.Model, tea.Cmd) {
	turn := chat.NewTurn(m.session, m.logger)
	m.turn = turn
	m.streaming = true
	m.partial = ""
	m.sources = nil
	m.lastAnswer = ""
	m.err = nil
	m.status = ""
	m.updateViewport()
	m.viewport.GotoBottom()

	ctx := m.ctx
	start := func() tea.Msg {
		if err := turn.Start(ctx); err != nil {
			return turnErrMsg{turn: turn, err: err}
		}
		return turnStartedMsg{turn: turn}
	}
	return m, tea.Batch(start, m.spinner.Tick)
}

// nextToken pulls exactly one token so rendering interleaves with streaming.
func nextToken(turn *chat.Turn) tea.Cmd {
	return func() tea.Msg {
		tok, done, err := turn.Next()
		switch {
		case err != nil:
			return turnErrMsg{turn: turn, err: err}
		case done:
			return turnDoneMsg{turn: turn}
		default:
			return tokenMsg{turn: turn, token: tok}
		}
	}
}

func (m Model) reload() tea.Cmd {
	ctx := m.ctx
	backend := m.backend
	return func() tea.Msg {
		changed, err := backend.Reload(ctx)
		return reloadMsg{changed: changed, err: err}
	}
}

// cancelTurn aborts the running turn, if any.
func (m Model) cancelTurn() {
	if m.turn != nil && m.turn.State() == chat.StateStreaming {
		m.turn.Cancel()
	}
}

func (m *Model) resetSession() {
	m.cancelTurn()
	m.session = m.backend.NewSession()
	m.turn = nil
	m.streaming = false
	m.partial = ""
	m.sources = nil
	m.lastAnswer = ""
	m.err = nil
}

func (m *Model) copyLastAnswer() {
	if m.lastAnswer == "" {
		m.status = "Nothing to copy yet."
		return
	}
	if err := m.copyFn(m.lastAnswer); err != nil {
		m.err = fmt.Errorf("copy to clipboard: %w", err)
		return
	}
	m.status = "Answer copied to clipboard."
}

// updateViewport redraws the conversation, the answer being streamed and the
// sources of the latest answer.
func (m *Model) updateViewport() {
	if !m.ready {
		return
	}
	var content strings.Builder
	bubbleWidth := max(10, m.viewport.Width-6)

	msgs := m.session.Messages()
	for i, msg := range msgs {
		if i > 0 {
			content.WriteString("\n")
		}
		switch msg.Role {
		case domain.RoleUser:
			content.WriteString(userLabelStyle.Render("You") + "\n")
			content.WriteString(userBubbleStyle.Width(bubbleWidth).Render(msg.Content))
		default:
			content.WriteString(assistantLabelStyle.Render("Assistant") + "\n")
			rendered, err := render.MarkdownWithWidth(msg.Content, bubbleWidth-2)
			if err != nil {
				rendered = msg.Content
			}
			content.WriteString(assistantBubbleStyle.Width(bubbleWidth).Render(rendered))
			if i == len(msgs)-1 && m.lastAnswer != "" && msg.Content == m.lastAnswer {
				content.WriteString(m.renderSources(bubbleWidth))
			}
		}
		content.WriteString("\n")
	}

	if m.streaming {
		content.WriteString("\n" + assistantLabelStyle.Render("Assistant") + "\n")
		if m.partial != "" {
			content.WriteString(assistantBubbleStyle.Width(bubbleWidth).Render(m.partial) + "\n")
		}
		content.WriteString(m.renderSources(bubbleWidth))
	}
	m.viewport.SetContent(content.String())
}

func (m Model) renderSources(width int) string {
	if len(m.sources) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n" + sourceStyle.Render("Sources:"))
	seen := make(map[string]bool)
	for _, s := range m.sources {
		if seen[s.Chunk.ChunkID] {
			continue
		}
		seen[s.Chunk.ChunkID] = true
		name := filepath.Base(s.Chunk.Source)
		line := truncate(bestSentence(s.Chunk.Text, m.query), max(10, width-len(name)-6))
		b.WriteString("\n" + sourceStyle.Render("• "+name+": ") + highlightStyle.Render(line))
	}
	return b.String()
}

func (m Model) View() string {
	if !m.ready {
		return loadingStyle.Render("  Initializing...")
	}
	width := max(20, m.width-2)

	st := m.backend.Stats()
	header := titleStyle.Render("DCSA Chat") + "  " +
		subtitleStyle.Render(fmt.Sprintf("%s · %d documents · %d chunks · %s · history %d/%d",
			m.backend.Model(), st.Documents, st.Chunks, st.Embedder, len(m.session.Messages()), m.session.MaxMessages()))
	summary := summaryStyle.Render(truncate(m.backend.Summary(), width))

	messages := messagesAreaStyle.Width(width).Render(m.viewport.View())

	var line string
	switch {
	case m.streaming:
		line = m.spinner.View() + " " + loadingStyle.Render("Generating response...")
	case m.reloading:
		line = m.spinner.View() + " " + loadingStyle.Render(m.status)
	case m.err != nil:
		line = errorStyle.Render("Error: " + m.err.Error())
	}
	status := statusStyle.Render(m.status)

	input := inputPanelStyle.Width(width).Render(m.textarea.View())
	return strings.Join([]string{header, summary, messages, line, input, status, m.renderStatusBar()}, "\n")
}

func (m Model) renderStatusBar() string {
	shortcuts := []struct{ key, desc string }{
		{"Enter", "Send"},
		{"Esc", "Cancel/Quit"},
		{"Ctrl+Y", "Copy answer"},
		{"/reset /reload /retry", "Commands"},
	}
	items := make([]string, 0, len(shortcuts))
	for _, s := range shortcuts {
		items = append(items, statusKeyStyle.Render(s.key)+statusDescStyle.Render(" "+s.desc))
	}
	return strings.Join(items, "  │  ")
}

// Run starts the chat program and blocks until the user quits.
func Run(ctx context.Context, backend Backend, logger *slog.Logger) error {
	start := time.Now()
	p := tea.NewProgram(New(ctx, backend, logger), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if m, ok := final.(Model); ok {
		m.cancelTurn()
	}
	if logger != nil {
		logger.Info("chat closed", "elapsed", time.Since(start))
	}
	return err
}
