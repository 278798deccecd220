package styles

import "github.com/charmbracelet/lipgloss"

// Styles are the lipgloss styles the console renders with.
type Styles struct {
	Theme   Theme
	Title   lipgloss.Style
	Text    lipgloss.Style
	Muted   lipgloss.Style
	Accent  lipgloss.Style
	Prompt  lipgloss.Style
	Echo    lipgloss.Style
	Match   lipgloss.Style
	Cursor  lipgloss.Style
	Status  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}

// DefaultStyles builds styles from the default theme.
func DefaultStyles() Styles {
	return BuildStyles(DefaultTheme)
}

// BuildStyles converts theme tokens into lipgloss styles.
func BuildStyles(theme Theme) Styles {
	t := theme.Tokens
	color := func(c string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(c))
	}

	return Styles{
		Theme:   theme,
		Title:   color(t.Accent).Bold(true),
		Text:    color(t.Text),
		Muted:   color(t.TextMuted),
		Accent:  color(t.Accent),
		Prompt:  color(t.Prompt).Bold(true),
		Echo:    color(t.TextMuted).Italic(true),
		Match:   lipgloss.NewStyle().Foreground(lipgloss.Color(t.Background)).Background(lipgloss.Color(t.Match)).Bold(true),
		Cursor:  lipgloss.NewStyle().Reverse(true),
		Status:  color(t.TextMuted).Background(lipgloss.Color(t.Panel)),
		Success: color(t.Success),
		Warning: color(t.Warning),
		Error:   color(t.Error),
	}
}
