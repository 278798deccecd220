package styles

// ThemeTokens are the semantic color roles of the console.
type ThemeTokens struct {
	Background string
	Panel      string
	Text       string
	TextMuted  string
	Border     string
	Accent     string
	Prompt     string
	Match      string
	Success    string
	Warning    string
	Error      string
}

// Theme bundles a palette with a name.
type Theme struct {
	Name   string
	Tokens ThemeTokens
}

// DefaultTheme is the baseline palette.
var DefaultTheme = Theme{
	Name: "default",
	Tokens: ThemeTokens{
		Background: "#0E1116",
		Panel:      "#161B22",
		Text:       "#E6EDF3",
		TextMuted:  "#7D8590",
		Border:     "#30363D",
		Accent:     "#FFAA00",
		Prompt:     "#55FF55",
		Match:      "#FFD700",
		Success:    "#3FB950",
		Warning:    "#D29922",
		Error:      "#FF5555",
	},
}

// HighContrastTheme favors visibility on low-contrast terminals.
var HighContrastTheme = Theme{
	Name: "high-contrast",
	Tokens: ThemeTokens{
		Background: "#000000",
		Panel:      "#000000",
		Text:       "#FFFFFF",
		TextMuted:  "#C0C0C0",
		Border:     "#FFFFFF",
		Accent:     "#FFFF55",
		Prompt:     "#00FF5A",
		Match:      "#00A2FF",
		Success:    "#00FF5A",
		Warning:    "#FFB000",
		Error:      "#FF4040",
	},
}

// Themes lists available palettes by name.
var Themes = map[string]Theme{
	DefaultTheme.Name:      DefaultTheme,
	HighContrastTheme.Name: HighContrastTheme,
}

// Lookup returns the named theme, or DefaultTheme.
func Lookup(name string) Theme {
	if theme, ok := Themes[name]; ok {
		return theme
	}
	return DefaultTheme
}
