package tui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

type ThemeName string

const (
	ThemePorcelain ThemeName = "porcelain"
	ThemeMidnight  ThemeName = "midnight"
)

// Theme bundles the palette and derived styles for one look. Selected once
// at startup from FORGE_THEME; FORGE_NO_COLOR=1 strips color entirely.
type Theme struct {
	Name ThemeName

	TextPrimary lipgloss.AdaptiveColor
	TextMuted   lipgloss.AdaptiveColor
	Accent      lipgloss.AdaptiveColor
	Success     lipgloss.AdaptiveColor
	Warn        lipgloss.AdaptiveColor
	Error       lipgloss.AdaptiveColor
	Border      lipgloss.AdaptiveColor
	BorderHi    lipgloss.AdaptiveColor

	TopBar      lipgloss.Style
	TopBarTitle lipgloss.Style
	TopBarBadge lipgloss.Style
	TopBarMeta  lipgloss.Style
	Footer      lipgloss.Style
	InputBox    lipgloss.Style
	Spinner     lipgloss.Style
	Modal       lipgloss.Style
	ModalTitle  lipgloss.Style
	ModalActive lipgloss.Style
	ModalRow    lipgloss.Style

	RoleYou    lipgloss.Style
	RoleAgent  lipgloss.Style
	RoleSys    lipgloss.Style
	RoleErr    lipgloss.Style
	StatusLine lipgloss.Style
	ToolLine   lipgloss.Style
	ToolOK     lipgloss.Style
	ToolErr    lipgloss.Style

	DiffAdd     lipgloss.Style
	DiffDel     lipgloss.Style
	DiffContext lipgloss.Style

	PopupBox  lipgloss.Style
	PopupSel  lipgloss.Style
	PopupItem lipgloss.Style
	PopupDesc lipgloss.Style
}

func NewTheme() Theme {
	if os.Getenv("FORGE_NO_COLOR") == "1" {
		return newNoColorTheme()
	}
	switch ThemeName(os.Getenv("FORGE_THEME")) {
	case ThemeMidnight:
		return newMidnightTheme()
	default:
		return newPorcelainTheme()
	}
}

func newPorcelainTheme() Theme {
	return buildTheme(Theme{
		Name:        ThemePorcelain,
		TextPrimary: lipgloss.AdaptiveColor{Light: "#1d2433", Dark: "#f2f2f2"},
		TextMuted:   lipgloss.AdaptiveColor{Light: "#4a5568", Dark: "#c7c7c7"},
		Accent:      lipgloss.AdaptiveColor{Light: "#1f6feb", Dark: "#7aa2ff"},
		Success:     lipgloss.AdaptiveColor{Light: "#0f766e", Dark: "#46d1b7"},
		Warn:        lipgloss.AdaptiveColor{Light: "#b45309", Dark: "#f4b27d"},
		Error:       lipgloss.AdaptiveColor{Light: "#b42318", Dark: "#ff7a7a"},
		Border:      lipgloss.AdaptiveColor{Light: "#cbd5e0", Dark: "#3a3a3a"},
		BorderHi:    lipgloss.AdaptiveColor{Light: "#1f6feb", Dark: "#7aa2ff"},
	})
}

func newMidnightTheme() Theme {
	return buildTheme(Theme{
		Name:        ThemeMidnight,
		TextPrimary: lipgloss.AdaptiveColor{Light: "#111827", Dark: "#eaeaea"},
		TextMuted:   lipgloss.AdaptiveColor{Light: "#374151", Dark: "#b7b7b7"},
		Accent:      lipgloss.AdaptiveColor{Light: "#0ea5e9", Dark: "#5cc8ff"},
		Success:     lipgloss.AdaptiveColor{Light: "#059669", Dark: "#46d1b7"},
		Warn:        lipgloss.AdaptiveColor{Light: "#d97706", Dark: "#f4b27d"},
		Error:       lipgloss.AdaptiveColor{Light: "#dc2626", Dark: "#ff7a7a"},
		Border:      lipgloss.AdaptiveColor{Light: "#9ca3af", Dark: "#2a2a2a"},
		BorderHi:    lipgloss.AdaptiveColor{Light: "#0ea5e9", Dark: "#5cc8ff"},
	})
}

func newNoColorTheme() Theme {
	mono := lipgloss.AdaptiveColor{Light: "#000000", Dark: "#ffffff"}
	dim := lipgloss.AdaptiveColor{Light: "#333333", Dark: "#dddddd"}
	return buildTheme(Theme{
		Name:        "no-color",
		TextPrimary: mono,
		TextMuted:   dim,
		Accent:      mono,
		Success:     mono,
		Warn:        mono,
		Error:       mono,
		Border:      dim,
		BorderHi:    mono,
	})
}

// buildTheme derives every style from the palette so the three themes stay
// structurally identical.
func buildTheme(t Theme) Theme {
	t.TopBar = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.TopBarTitle = lipgloss.NewStyle().Bold(true).Foreground(t.TextPrimary)
	t.TopBarBadge = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
	t.TopBarMeta = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.Footer = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.InputBox = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(t.Border).Padding(0, 1)
	t.Spinner = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)

	t.Modal = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.BorderHi).Padding(0, 1)
	t.ModalTitle = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
	t.ModalActive = lipgloss.NewStyle().Bold(true).Foreground(t.Warn)
	t.ModalRow = lipgloss.NewStyle().Foreground(t.TextPrimary)

	t.RoleYou = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
	t.RoleAgent = lipgloss.NewStyle().Bold(true).Foreground(t.TextPrimary)
	t.RoleSys = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.RoleErr = lipgloss.NewStyle().Bold(true).Foreground(t.Error)
	t.StatusLine = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.ToolLine = lipgloss.NewStyle().Foreground(t.Accent)
	t.ToolOK = lipgloss.NewStyle().Foreground(t.Success)
	t.ToolErr = lipgloss.NewStyle().Foreground(t.Error)

	t.DiffAdd = lipgloss.NewStyle().Foreground(t.Success)
	t.DiffDel = lipgloss.NewStyle().Foreground(t.Error)
	t.DiffContext = lipgloss.NewStyle().Foreground(t.TextMuted)

	t.PopupBox = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Border).Padding(0, 1)
	t.PopupSel = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
	t.PopupItem = lipgloss.NewStyle().Foreground(t.TextPrimary)
	t.PopupDesc = lipgloss.NewStyle().Foreground(t.TextMuted)
	return t
}
