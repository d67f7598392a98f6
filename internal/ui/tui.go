package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer provides rich terminal UI using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *pipelineModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails for non-TTY output.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newPipelineModel(tracker, cfg.Workspace)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	_, r.cancel = context.WithCancel(ctx)

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	opts = append(opts, tea.WithAltScreen())

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()

	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.tracker.Stats()
	// OCR pages arrive interleaved with document completions; they only
	// refresh the current-file line while documents are being extracted.
	if event.Stage == StageOCR && current.Stage == StageExtract {
		if event.Message != "" {
			r.tracker.Update(current.Current, event.Message)
		}
		return
	}
	if event.Stage != current.Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.CurrentFile)

	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.program != nil {
		r.program.Quit()
		// An unresponsive program must not hang Ctrl+C.
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

type progressUpdateMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type tickMsg time.Time

// pipelineModel is the bubbletea model for pipeline progress.
type pipelineModel struct {
	tracker     *ProgressTracker
	width       int
	height      int
	quitting    bool
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	workspace   string
}

func newPipelineModel(tracker *ProgressTracker, workspace string) *pipelineModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	p := progress.New(
		progress.WithSolidFill(ColorLime),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &pipelineModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		height:      24,
		workspace:   workspace,
	}
}

// Init implements tea.Model.
func (m *pipelineModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *pipelineModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progressBar.Width = max(msg.Width-20, 20)

	case progressUpdateMsg, errorMsg:
		// The renderer already fed the tracker.
		return m, nil

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *pipelineModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	contentWidth := max(m.width-4, 40)
	stats := m.tracker.Stats()

	sections := []string{
		m.renderStages(stats.Stage),
		m.renderDivider(contentWidth),
		m.renderProgress(stats),
		m.renderRate(stats),
	}
	if stats.CurrentFile != "" {
		sections = append(sections, m.renderDivider(contentWidth))
		sections = append(sections, m.styles.Dim.Render(truncate(stats.CurrentFile, contentWidth-2)))
	}

	title := "docanalysis"
	if m.workspace != "" {
		title = fmt.Sprintf("docanalysis • %s", m.workspace)
	}
	panel := m.wrapInPanel(title, strings.Join(sections, "\n"), contentWidth)
	return panel + "\n" + m.renderStatusBar(stats)
}

var pipelineStages = []struct {
	stage Stage
	name  string
}{
	{StageDownload, "Fetch"},
	{StageExtract, "Extract"},
	{StageOCR, "OCR"},
	{StageIndex, "Index"},
	{StageEmbed, "Embed"},
	{StageCluster, "Cluster"},
}

func (m *pipelineModel) renderStages(current Stage) string {
	var parts []string
	for _, s := range pipelineStages {
		status := StatusOf(s.stage, current)
		icon := "○"
		switch status {
		case StageDone:
			icon = "●"
		case StageRunning:
			icon = m.spinner.View()
		}
		parts = append(parts, m.styles.ForStatus(status).Render(icon+" "+s.name))
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *pipelineModel) renderProgress(stats ProgressStats) string {
	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...\n%s",
			m.spinner.View(), stats.Stage.String(), m.styles.Dim.Render("Preparing..."))
	}

	bar := m.progressBar.ViewAs(stats.Progress)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
	unit := "documents"
	switch stats.Stage {
	case StageOCR:
		unit = "pages"
	case StageEmbed:
		unit = "batches"
	}
	count := m.styles.Label.Render(fmt.Sprintf("%d / %d %s", stats.Current, stats.Total, unit))
	return fmt.Sprintf("%s  %s\n%s", bar, pct, count)
}

func (m *pipelineModel) renderRate(stats ProgressStats) string {
	parts := []string{m.styles.Speed.Render(fmt.Sprintf("Rate: %.1f/s", stats.Rate))}
	if stats.ETA > 0 {
		parts = append(parts, m.styles.Label.Render("ETA: "+formatDuration(stats.ETA)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  •  "))
}

func (m *pipelineModel) renderDivider(width int) string {
	return m.styles.Border.Render(strings.Repeat("─", width))
}

func (m *pipelineModel) wrapInPanel(title, content string, width int) string {
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)
	return lipgloss.JoinVertical(lipgloss.Left, m.styles.Header.Render(title), panel.Render(content))
}

func (m *pipelineModel) renderStatusBar(stats ProgressStats) string {
	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d failed", stats.ErrorCount)))
	}
	if len(parts) == 0 {
		return m.styles.Dim.Render("q to quit")
	}
	sep := m.styles.Dim.Render("  │  ")
	return strings.Join(parts, sep) + sep + m.styles.Dim.Render("q to quit")
}

func (m *pipelineModel) renderComplete() string {
	s := m.stats
	label := m.styles.Label.Render
	value := func(v any) string { return m.styles.Active.Render(fmt.Sprint(v)) }

	lines := []string{
		m.styles.Success.Render("✓ Pipeline Complete"),
		"",
		fmt.Sprintf("%s %s", label("Documents:"), value(s.Documents)),
		fmt.Sprintf("%s %s", label("Succeeded:"), value(s.Succeeded)),
		fmt.Sprintf("%s    %s", label("Failed:"), value(s.Failed)),
	}
	for _, name := range s.methodNames() {
		lines = append(lines, fmt.Sprintf("  %s %s", label(name+":"), value(s.Methods[name])))
	}
	if s.Method != "" {
		lines = append(lines, fmt.Sprintf("%s  %s", label("Clusters:"), value(fmt.Sprintf("%d (%s)", s.Clusters, s.Method))))
	}
	lines = append(lines, fmt.Sprintf("%s  %s", label("Duration:"), value(formatDuration(s.Duration))))

	if s.Errors > 0 || s.Warnings > 0 {
		lines = append(lines, "")
		if s.Errors > 0 {
			lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", s.Errors)))
		}
		if s.Warnings > 0 {
			lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", s.Warnings)))
		}
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorLime)).
		Padding(1, 2).
		Width(max(m.width-4, 40))
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// truncate shortens s to maxLen, keeping its tail.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		return "..."
	}
	return "..." + s[len(s)-maxLen+3:]
}

var _ Renderer = (*TUIRenderer)(nil)
