package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/loom/internal/pipeline"
)

const defaultTheme = "default"

// palette is one named dashboard color scheme. The interface section of the
// config selects a palette by name; unknown names fall back to the default.
type palette struct {
	Header lipgloss.Color
	Accent lipgloss.Color
	Border lipgloss.Color
	Text   lipgloss.Color
	Detail lipgloss.Color
	Muted  lipgloss.Color
	Good   lipgloss.Color
	Bad    lipgloss.Color
	Warn   lipgloss.Color
}

var palettes = map[string]palette{
	"default": {
		Header: lipgloss.Color("#FF6B6B"),
		Accent: lipgloss.Color("#5B8DEF"),
		Border: lipgloss.Color("#444444"),
		Text:   lipgloss.Color("#CCCCCC"),
		Detail: lipgloss.Color("#A0AEC0"),
		Muted:  lipgloss.Color("#888888"),
		Good:   lipgloss.Color("#4CAF50"),
		Bad:    lipgloss.Color("#FF6B6B"),
		Warn:   lipgloss.Color("#F7B801"),
	},
	"midnight": {
		Header: lipgloss.Color("#7C83FD"),
		Accent: lipgloss.Color("#96BAFF"),
		Border: lipgloss.Color("#3A3A5C"),
		Text:   lipgloss.Color("#C9D1D9"),
		Detail: lipgloss.Color("#8B949E"),
		Muted:  lipgloss.Color("#6E7681"),
		Good:   lipgloss.Color("#3FB950"),
		Bad:    lipgloss.Color("#F85149"),
		Warn:   lipgloss.Color("#D29922"),
	},
	"paper": {
		Header: lipgloss.Color("#D7263D"),
		Accent: lipgloss.Color("#1B6CA8"),
		Border: lipgloss.Color("#B8B8B8"),
		Text:   lipgloss.Color("#2E2E2E"),
		Detail: lipgloss.Color("#555F6B"),
		Muted:  lipgloss.Color("#767676"),
		Good:   lipgloss.Color("#2E7D32"),
		Bad:    lipgloss.Color("#C62828"),
		Warn:   lipgloss.Color("#B26A00"),
	},
}

func paletteFor(name string) palette {
	key := strings.ToLower(strings.TrimSpace(name))
	if p, ok := palettes[key]; ok {
		return p
	}
	return palettes[defaultTheme]
}

func statusStyleFor(p palette, status pipeline.Status) lipgloss.Style {
	switch status {
	case pipeline.StatusCompleted:
		return lipgloss.NewStyle().Foreground(p.Good).Bold(true)
	case pipeline.StatusFailed:
		return lipgloss.NewStyle().Foreground(p.Bad).Bold(true)
	case pipeline.StatusRunning:
		return lipgloss.NewStyle().Foreground(p.Accent).Bold(true)
	case pipeline.StatusBlocked:
		return lipgloss.NewStyle().Foreground(p.Warn).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(p.Muted)
	}
}
