// Package tui implements the litemacro session console.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ourisland/litemacro/internal/tui/components"
	"github.com/ourisland/litemacro/internal/tui/styles"
)

// Session is the console's view of a connected daemon session.
type Session interface {
	// Recv blocks for the next message. io.EOF ends the stream.
	Recv() (string, error)
	Execute(ctx context.Context, command string) error
	Close()
}

// Config configures the console.
type Config struct {
	Session Session
	Name    string
	Backend string
	Address string
	Theme   string

	// Scrollback bounds retained lines. Zero uses the component default.
	Scrollback int

	// ExecTimeout bounds one command round trip.
	ExecTimeout time.Duration
}

// Run starts the console and blocks until the user quits.
func Run(cfg Config) error {
	if cfg.Session == nil {
		return errors.New("session is required")
	}
	defer cfg.Session.Close()

	program := tea.NewProgram(newModel(cfg), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

const (
	minWidth  = 40
	minHeight = 8
	inputMax  = 256
)

type mode int

const (
	modeCommand mode = iota
	modeSearch
)

type model struct {
	cfg    Config
	styles styles.Styles
	width  int
	height int

	scroll *components.Scrollback
	mode   mode
	input  []rune
	cursor int

	history []string
	histPos int
	draft   []rune

	inflight int
	status   string
	failed   bool
	closed   bool
}

func newModel(cfg Config) model {
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 10 * time.Second
	}
	return model{
		cfg:    cfg,
		styles: styles.BuildStyles(styles.Lookup(cfg.Theme)),
		scroll: components.NewScrollback(cfg.Scrollback),
		status: "connected",
	}
}

type lineMsg string

type streamClosedMsg struct{ err error }

type execResultMsg struct {
	command string
	err     error
}

func recvCmd(session Session) tea.Cmd {
	return func() tea.Msg {
		line, err := session.Recv()
		if err != nil {
			return streamClosedMsg{err: err}
		}
		return lineMsg(line)
	}
}

func execCmd(session Session, command string, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return execResultMsg{command: command, err: session.Execute(ctx, command)}
	}
}

func (m model) Init() tea.Cmd {
	return recvCmd(m.cfg.Session)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.scroll.SetSize(msg.Width, m.scrollHeight())
		return m, nil

	case lineMsg:
		m.scroll.Append(string(msg))
		return m, recvCmd(m.cfg.Session)

	case streamClosedMsg:
		m.closed = true
		m.failed = msg.err != nil && !errors.Is(msg.err, io.EOF)
		if m.failed {
			m.status = "disconnected: " + msg.err.Error()
		} else {
			m.status = "disconnected by the daemon"
		}
		return m, nil

	case execResultMsg:
		m.inflight--
		if msg.err != nil {
			// Host-side rejections are already echoed into the stream.
			m.status = msg.command + ": " + msg.err.Error()
			m.failed = true
		} else if m.inflight == 0 {
			m.status = "ok"
			m.failed = false
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		if m.mode == modeSearch {
			m.mode = modeCommand
			m.input, m.cursor = nil, 0
			return m, nil
		}
		return m, tea.Quit
	case tea.KeyEnter:
		return m.submit()
	case tea.KeyBackspace:
		if m.cursor > 0 {
			m.input = append(m.input[:m.cursor-1], m.input[m.cursor:]...)
			m.cursor--
		}
	case tea.KeyDelete:
		if m.cursor < len(m.input) {
			m.input = append(m.input[:m.cursor], m.input[m.cursor+1:]...)
		}
	case tea.KeyLeft:
		if m.cursor > 0 {
			m.cursor--
		}
	case tea.KeyRight:
		if m.cursor < len(m.input) {
			m.cursor++
		}
	case tea.KeyHome, tea.KeyCtrlA:
		m.cursor = 0
	case tea.KeyCtrlE:
		m.cursor = len(m.input)
	case tea.KeyUp:
		m.recall(-1)
	case tea.KeyDown:
		m.recall(1)
	case tea.KeyPgUp:
		m.scroll.ScrollUp(m.scroll.PageSize())
	case tea.KeyPgDown:
		m.scroll.ScrollDown(m.scroll.PageSize())
	case tea.KeyEnd:
		m.scroll.ScrollToBottom()
	case tea.KeyCtrlF:
		m.mode = modeSearch
		m.input = []rune(m.scroll.Query())
		m.cursor = len(m.input)
	case tea.KeyCtrlN:
		m.scroll.NextHit()
	case tea.KeyCtrlP:
		m.scroll.PrevHit()
	case tea.KeyCtrlL:
		m.scroll.Search("")
	case tea.KeySpace:
		m.insert(' ')
	case tea.KeyRunes:
		for _, r := range msg.Runes {
			m.insert(r)
		}
	}
	return m, nil
}

func (m *model) insert(r rune) {
	if len(m.input) >= inputMax {
		return
	}
	m.input = append(m.input, 0)
	copy(m.input[m.cursor+1:], m.input[m.cursor:])
	m.input[m.cursor] = r
	m.cursor++
}

// recall walks the command history; dir -1 is older.
func (m *model) recall(dir int) {
	if m.mode != modeCommand || len(m.history) == 0 {
		return
	}
	if m.histPos == len(m.history) {
		m.draft = append([]rune(nil), m.input...)
	}
	next := m.histPos + dir
	if next < 0 || next > len(m.history) {
		return
	}
	m.histPos = next
	if next == len(m.history) {
		m.input = append([]rune(nil), m.draft...)
	} else {
		m.input = []rune(m.history[next])
	}
	m.cursor = len(m.input)
}

func (m model) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(string(m.input))
	m.input, m.cursor = nil, 0

	if m.mode == modeSearch {
		m.mode = modeCommand
		m.scroll.Search(line)
		return m, nil
	}
	if line == "" {
		return m, nil
	}
	if n := len(m.history); n == 0 || m.history[n-1] != line {
		m.history = append(m.history, line)
	}
	m.histPos = len(m.history)
	m.draft = nil

	m.scroll.Append(components.EchoPrefix + line)
	m.scroll.ScrollToBottom()
	if m.closed {
		m.scroll.Append(components.ErrorPrefix + "not connected")
		return m, nil
	}
	m.inflight++
	m.status = "running " + line
	m.failed = false
	return m, execCmd(m.cfg.Session, line, m.cfg.ExecTimeout)
}

// scrollHeight leaves room for the header, input and status rows.
func (m model) scrollHeight() int {
	if h := m.height - 4; h > 1 {
		return h
	}
	return 1
}

func (m model) View() string {
	if m.width > 0 && m.height > 0 && (m.width < minWidth || m.height < minHeight) {
		return strings.Join([]string{
			m.styles.Warning.Render(fmt.Sprintf("Terminal too small (%dx%d).", m.width, m.height)),
			m.styles.Muted.Render(fmt.Sprintf("Resize to at least %dx%d.", minWidth, minHeight)),
		}, "\n") + "\n"
	}

	lines := []string{
		m.header(),
		m.scroll.Render(m.styles),
		m.inputLine(),
		m.statusLine(),
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m model) header() string {
	who := m.cfg.Name
	if m.cfg.Backend != "" {
		who += "@" + m.cfg.Backend
	}
	title := m.styles.Title.Render("litemacro console")
	meta := m.styles.Muted.Render(strings.TrimSpace(who + " " + m.cfg.Address))
	return title + "  " + meta
}

func (m model) inputLine() string {
	prompt := m.styles.Prompt.Render("› ")
	if m.mode == modeSearch {
		prompt = m.styles.Accent.Render("/ ")
	}

	before := string(m.input[:m.cursor])
	at, after := " ", ""
	if m.cursor < len(m.input) {
		at = string(m.input[m.cursor])
		after = string(m.input[m.cursor+1:])
	}
	return prompt + m.styles.Text.Render(before) + m.styles.Cursor.Render(at) + m.styles.Text.Render(after)
}

func (m model) statusLine() string {
	style := m.styles.Muted
	switch {
	case m.failed:
		style = m.styles.Error
	case m.closed:
		style = m.styles.Warning
	}
	help := "enter run | ↑↓ history | pgup/pgdn scroll | ctrl+f search | esc quit"
	return style.Render(m.status) + "  " + m.styles.Muted.Render(help)
}
