package ui

import "github.com/charmbracelet/lipgloss"

// ANSI 256 palette: one lime accent over grays.
const (
	ColorLime     = "154"
	ColorLimeDim  = "106"
	ColorGray     = "245"
	ColorDarkGray = "238"
	ColorRed      = "196"
	ColorYellow   = "220"
)

// StageStatus places a pipeline stage relative to the running one.
type StageStatus int

const (
	StagePending StageStatus = iota
	StageRunning
	StageDone
)

// StatusOf reports whether stage is done, running or still to come while
// current runs.
func StatusOf(stage, current Stage) StageStatus {
	switch {
	case stage < current:
		return StageDone
	case stage == current:
		return StageRunning
	default:
		return StagePending
	}
}

// Styles holds the lipgloss styles of the progress view and CLI output.
type Styles struct {
	// Text styles
	Header   lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Dim      lipgloss.Style
	Stage    lipgloss.Style
	Active   lipgloss.Style
	Progress lipgloss.Style

	// Panel/layout styles
	Border lipgloss.Style
	Panel  lipgloss.Style
	Speed  lipgloss.Style
	Label  lipgloss.Style
}

// DefaultStyles returns styled components for TUI mode.
func DefaultStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Success:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Stage:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLimeDim)),
		Active:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Progress: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),

		Border: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
		Speed: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Label: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
	}
}

// NoColorStyles returns unstyled components for plain mode.
func NoColorStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle(),
		Success:  lipgloss.NewStyle(),
		Warning:  lipgloss.NewStyle(),
		Error:    lipgloss.NewStyle(),
		Dim:      lipgloss.NewStyle(),
		Stage:    lipgloss.NewStyle(),
		Active:   lipgloss.NewStyle(),
		Progress: lipgloss.NewStyle(),
		Border:   lipgloss.NewStyle(),
		Panel:    lipgloss.NewStyle(),
		Speed:    lipgloss.NewStyle(),
		Label:    lipgloss.NewStyle(),
	}
}

// ForStatus returns the style a stage label is drawn in.
func (s Styles) ForStatus(st StageStatus) lipgloss.Style {
	switch st {
	case StageDone:
		return s.Success
	case StageRunning:
		return s.Active
	default:
		return s.Dim
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
