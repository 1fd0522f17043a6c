// Package tui renders the download queue in the terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Phase is the coarse state of a row.
type Phase int

const (
	PhasePending Phase = iota
	PhaseWorking
	PhaseDownloading
	PhaseMuxing
	PhaseDone
	PhaseFailed
	PhaseCanceled
)

// Row is one task as displayed.
type Row struct {
	ID         string
	URL        string
	Platform   string
	Phase      Phase
	Status     string // shown while working, e.g. "discovering manifest..."
	Resolution string
	Quality    string
	Done       int
	Total      int
	Bytes      int64
	Speed      float64
	ETA        time.Duration
	Elapsed    time.Duration
	Output     string
	Err        string
}

// Percent returns the segment progress as a percentage.
func (r Row) Percent() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Done) / float64(r.Total) * 100
}

// Counts summarises the queue.
type Counts struct {
	Active, Pending, Completed, Failed int
}

// Source supplies the rows and handles row actions.
type Source interface {
	Rows() []Row
	Counts() Counts
	Cancel(id string) error
	Remove(id string) error
}

// Messages
type (
	// RefreshMsg forces a redraw.
	RefreshMsg struct{}
	// FinishedMsg quits the program when auto-quit is enabled.
	FinishedMsg struct{}
	tickMsg     time.Time
)

// Model is the queue view.
type Model struct {
	source       Source
	title        string
	autoQuit     bool
	width        int
	height       int
	frame        int
	cursor       int
	scrollOffset int
}

// NewModel creates a queue view over src. With autoQuit the program exits
// on FinishedMsg.
func NewModel(src Source, title string, autoQuit bool) *Model {
	return &Model{
		source:   src,
		title:    title,
		autoQuit: autoQuit,
		width:    80,
		height:   24,
	}
}

func (m *Model) Init() tea.Cmd {
	return tick()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		rows := m.source.Rows()
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				m.adjustScroll()
			}
		case "down", "j":
			if m.cursor < len(rows)-1 {
				m.cursor++
				m.adjustScroll()
			}
		case "c":
			if m.cursor < len(rows) {
				m.source.Cancel(rows[m.cursor].ID)
			}
		case "r":
			if m.cursor < len(rows) {
				m.source.Remove(rows[m.cursor].ID)
				if m.cursor >= len(rows)-1 && m.cursor > 0 {
					m.cursor--
				}
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.frame++
		return m, tick()

	case FinishedMsg:
		if m.autoQuit {
			return m, tea.Quit
		}

	case RefreshMsg:
	}

	return m, nil
}

func (m *Model) visibleRows() int {
	return max(m.height-15, 5)
}

func (m *Model) adjustScroll() {
	visible := m.visibleRows()
	if m.cursor < m.scrollOffset {
		m.scrollOffset = m.cursor
	}
	if m.cursor >= m.scrollOffset+visible {
		m.scrollOffset = m.cursor - visible + 1
	}
}

func (m *Model) View() string {
	w := clamp(m.width-4, 60, 100)

	var b strings.Builder
	b.WriteString(m.viewHeader(w))
	b.WriteString("\n\n")
	b.WriteString(m.viewTasks(w))
	b.WriteString("\n")

	return b.String()
}

func (m *Model) viewHeader(w int) string {
	title := titleStyle.Render("⚡ " + m.title)
	subtitle := dimStyle.Render(" - post video extractor")

	c := m.source.Counts()
	line2 := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		statLabelStyle.Render("active:"),
		statValueStyle.Render(fmt.Sprintf("%d", c.Active)),
		statLabelStyle.Render("pending:"),
		normalStyle.Render(fmt.Sprintf("%d", c.Pending)),
		statLabelStyle.Render("done:"),
		successStyle.Render(fmt.Sprintf("%d", c.Completed)),
		statLabelStyle.Render("failed:"),
		errorStyle.Render(fmt.Sprintf("%d", c.Failed)),
	)

	return headerStyle.Width(w).Render(title + subtitle + "\n" + line2)
}

func (m *Model) viewTasks(w int) string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Downloads"))
	b.WriteString("\n\n")

	rows := m.source.Rows()
	if len(rows) == 0 {
		b.WriteString(dimStyle.Render("  No downloads queued"))
		b.WriteString("\n")
	} else {
		visible := m.visibleRows()
		for i := m.scrollOffset; i < len(rows) && i < m.scrollOffset+visible; i++ {
			b.WriteString(m.renderRow(rows[i], i == m.cursor, w-6))
			b.WriteString("\n")
		}
		if len(rows) > visible {
			b.WriteString(dimStyle.Render(fmt.Sprintf("\n  %d/%d tasks", min(m.scrollOffset+visible, len(rows)), len(rows))))
		}
	}

	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render(
		keyHelpStyle.Render("↑/↓") + " navigate  " +
			keyHelpStyle.Render("c") + " cancel  " +
			keyHelpStyle.Render("r") + " remove  " +
			keyHelpStyle.Render("q") + " quit",
	))

	return contentStyle.Width(w).Render(b.String())
}

func (m *Model) renderRow(r Row, isCursor bool, w int) string {
	var b strings.Builder

	if isCursor {
		b.WriteString(selectedStyle.Render("▸ "))
	} else {
		b.WriteString("  ")
	}

	switch r.Phase {
	case PhasePending:
		b.WriteString(dimStyle.Render("◯ "))
	case PhaseWorking, PhaseDownloading:
		b.WriteString(spinnerStyle.Render(spinner[m.frame%len(spinner)] + " "))
	case PhaseMuxing:
		b.WriteString(warningStyle.Render("⚙ "))
	case PhaseDone:
		b.WriteString(successStyle.Render("✓ "))
	case PhaseFailed:
		b.WriteString(errorStyle.Render("✗ "))
	case PhaseCanceled:
		b.WriteString(dimStyle.Render("⊘ "))
	}

	name := truncate(r.ID, 25)
	if isCursor {
		b.WriteString(selectedStyle.Render(fmt.Sprintf("%-25s", name)))
	} else {
		b.WriteString(normalStyle.Render(fmt.Sprintf("%-25s", name)))
	}
	b.WriteString(" ")

	switch r.Phase {
	case PhaseDownloading, PhaseMuxing:
		b.WriteString(progressBar(r.Percent(), 20))
		b.WriteString(" ")
		b.WriteString(statValueStyle.Render(fmt.Sprintf("%5.1f%%", r.Percent())))
		b.WriteString(" ")
		if r.Speed > 0 {
			b.WriteString(dimStyle.Render(fmt.Sprintf("%s/s", FormatBytes(int64(r.Speed)))))
		}
		if r.ETA > 0 {
			b.WriteString(dimStyle.Render(fmt.Sprintf(" ETA: %s", FormatDuration(r.ETA))))
		}
	case PhasePending:
		b.WriteString(dimStyle.Render("waiting..."))
	case PhaseWorking:
		b.WriteString(dimStyle.Render(r.Status))
	case PhaseDone:
		b.WriteString(successStyle.Render("completed"))
		b.WriteString(dimStyle.Render(fmt.Sprintf(" in %s  %s", FormatDuration(r.Elapsed), truncate(r.Output, max(w-50, 10)))))
	case PhaseFailed:
		msg := r.Err
		if msg == "" {
			msg = "unknown error"
		}
		b.WriteString(errorStyle.Render(truncate(msg, max(w-30, 20))))
	case PhaseCanceled:
		b.WriteString(dimStyle.Render("canceled"))
	}

	if r.Phase == PhaseDownloading || r.Phase == PhaseMuxing {
		b.WriteString("\n      ")
		if r.Platform != "" {
			b.WriteString(platformBadge.Render(r.Platform))
			b.WriteString(" ")
		}
		if r.Quality != "" {
			b.WriteString(videoBadge.Render(r.Quality))
		}
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %d/%d segs  %s", r.Done, r.Total, FormatBytes(r.Bytes))))
	}

	return b.String()
}

func progressBar(pct float64, width int) string {
	filled := clamp(int(pct/100*float64(width)), 0, width)
	return progressActive.Render(strings.Repeat("█", filled)) +
		progressWait.Render(strings.Repeat("░", width-filled))
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Helpers

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

// FormatBytes renders b with a binary unit, e.g. "1.5 MB".
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders d compactly, e.g. "1m05s".
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
