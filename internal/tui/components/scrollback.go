// Package components provides reusable console widgets.
package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ourisland/litemacro/internal/tui/styles"
)

// DefaultScrollbackLines bounds a scrollback created with capacity 0.
const DefaultScrollbackLines = 2000

// Line prefixes the console uses for its own entries.
const (
	EchoPrefix  = "> "
	ErrorPrefix = "! "
)

// Scrollback is a bounded, searchable message log. While the view is at
// the bottom it follows new lines; scrolling up pins it.
type Scrollback struct {
	lines    []string
	capacity int
	offset   int
	height   int
	width    int
	follow   bool

	query    string
	hits     []int
	hitIndex int
}

// NewScrollback creates a scrollback keeping at most capacity lines.
func NewScrollback(capacity int) *Scrollback {
	if capacity <= 0 {
		capacity = DefaultScrollbackLines
	}
	return &Scrollback{capacity: capacity, height: 10, follow: true}
}

// SetSize sets the viewport. The last row is used by the position footer.
func (s *Scrollback) SetSize(width, height int) {
	s.width = width
	s.height = height
	s.clamp()
}

// Append adds lines, dropping the oldest beyond capacity.
func (s *Scrollback) Append(lines ...string) {
	for _, line := range lines {
		s.lines = append(s.lines, strings.Split(line, "\n")...)
	}
	if over := len(s.lines) - s.capacity; over > 0 {
		s.lines = append([]string(nil), s.lines[over:]...)
		if !s.follow {
			s.offset -= over
		}
	}
	s.refreshHits()
	if s.follow {
		s.offset = s.maxOffset()
	}
	s.clamp()
}

// Lines returns the retained lines.
func (s *Scrollback) Lines() []string { return s.lines }

// Len is the number of retained lines.
func (s *Scrollback) Len() int { return len(s.lines) }

// Following reports whether new lines scroll the view.
func (s *Scrollback) Following() bool { return s.follow }

// Offset is the index of the first visible line.
func (s *Scrollback) Offset() int { return s.offset }

// ScrollUp moves the view n lines towards older output.
func (s *Scrollback) ScrollUp(n int) {
	s.offset -= n
	s.clamp()
	s.follow = s.offset >= s.maxOffset()
}

// ScrollDown moves the view n lines towards newer output.
func (s *Scrollback) ScrollDown(n int) {
	s.offset += n
	s.clamp()
	s.follow = s.offset >= s.maxOffset()
}

// ScrollToBottom jumps to the newest line and resumes following.
func (s *Scrollback) ScrollToBottom() {
	s.offset = s.maxOffset()
	s.follow = true
}

// ScrollToTop jumps to the oldest line.
func (s *Scrollback) ScrollToTop() {
	s.offset = 0
	s.follow = s.maxOffset() == 0
}

// PageSize is the number of lines shown at once.
func (s *Scrollback) PageSize() int {
	if s.height <= 2 {
		return 1
	}
	return s.height - 1
}

// Search highlights lines containing query, case-insensitively, and jumps
// to the newest match. An empty query clears the search.
func (s *Scrollback) Search(query string) {
	s.query = query
	s.refreshHits()
	if len(s.hits) == 0 {
		return
	}
	s.hitIndex = len(s.hits) - 1
	s.reveal(s.hits[s.hitIndex])
}

// Query is the active search, if any.
func (s *Scrollback) Query() string { return s.query }

// HitCount is the number of lines matching the search.
func (s *Scrollback) HitCount() int { return len(s.hits) }

// NextHit moves to the next newer match, wrapping.
func (s *Scrollback) NextHit() {
	if len(s.hits) == 0 {
		return
	}
	s.hitIndex = (s.hitIndex + 1) % len(s.hits)
	s.reveal(s.hits[s.hitIndex])
}

// PrevHit moves to the next older match, wrapping.
func (s *Scrollback) PrevHit() {
	if len(s.hits) == 0 {
		return
	}
	s.hitIndex--
	if s.hitIndex < 0 {
		s.hitIndex = len(s.hits) - 1
	}
	s.reveal(s.hits[s.hitIndex])
}

func (s *Scrollback) refreshHits() {
	s.hits = s.hits[:0]
	if s.query == "" {
		s.hitIndex = 0
		return
	}
	q := strings.ToLower(s.query)
	for i, line := range s.lines {
		if strings.Contains(strings.ToLower(line), q) {
			s.hits = append(s.hits, i)
		}
	}
	if s.hitIndex >= len(s.hits) {
		s.hitIndex = len(s.hits) - 1
	}
	if s.hitIndex < 0 {
		s.hitIndex = 0
	}
}

func (s *Scrollback) reveal(line int) {
	page := s.PageSize()
	switch {
	case line < s.offset:
		s.offset = line
	case line >= s.offset+page:
		s.offset = line - page + 1
	}
	s.clamp()
	s.follow = s.offset >= s.maxOffset()
}

func (s *Scrollback) maxOffset() int {
	if n := len(s.lines) - s.PageSize(); n > 0 {
		return n
	}
	return 0
}

func (s *Scrollback) clamp() {
	if s.offset > s.maxOffset() {
		s.offset = s.maxOffset()
	}
	if s.offset < 0 {
		s.offset = 0
	}
}

func (s *Scrollback) currentHit() int {
	if len(s.hits) == 0 {
		return -1
	}
	return s.hits[s.hitIndex]
}

// Render draws the visible lines and a position footer.
func (s *Scrollback) Render(st styles.Styles) string {
	if len(s.lines) == 0 {
		return st.Muted.Render("No messages yet. Type a command, e.g. hello")
	}

	end := s.offset + s.PageSize()
	if end > len(s.lines) {
		end = len(s.lines)
	}
	current := s.currentHit()

	rendered := make([]string, 0, end-s.offset+1)
	for i := s.offset; i < end; i++ {
		line := truncate(s.lines[i], s.width)
		rendered = append(rendered, s.renderLine(st, line, i == current))
	}
	rendered = append(rendered, st.Muted.Render(s.footer()))
	return strings.Join(rendered, "\n")
}

func (s *Scrollback) renderLine(st styles.Styles, line string, current bool) string {
	base := st.Text
	switch {
	case strings.HasPrefix(line, EchoPrefix):
		base = st.Echo
	case strings.HasPrefix(line, ErrorPrefix):
		base = st.Error
	}

	if s.query == "" {
		return base.Render(line)
	}
	idx := strings.Index(strings.ToLower(line), strings.ToLower(s.query))
	if idx < 0 || idx+len(s.query) > len(line) {
		return base.Render(line)
	}
	match := st.Warning.Underline(true)
	if current {
		match = st.Match
	}
	end := idx + len(s.query)
	return base.Render(line[:idx]) + match.Render(line[idx:end]) + base.Render(line[end:])
}

func (s *Scrollback) footer() string {
	total := len(s.lines)
	end := s.offset + s.PageSize()
	if end > total {
		end = total
	}
	info := fmt.Sprintf("%d-%d of %d", s.offset+1, end, total)
	if !s.follow {
		info += " (scrolled, End to follow)"
	}
	if s.query != "" {
		if len(s.hits) == 0 {
			info += fmt.Sprintf(" | /%s no match", s.query)
		} else {
			info += fmt.Sprintf(" | /%s %d/%d", s.query, s.hitIndex+1, len(s.hits))
		}
	}
	return "── " + info + " ──"
}

func truncate(line string, width int) string {
	if width <= 0 || lipgloss.Width(line) <= width {
		return line
	}
	runes := []rune(line)
	if width <= 1 || len(runes) <= width {
		return string(runes[:min(width, len(runes))])
	}
	return string(runes[:width-1]) + "…"
}
