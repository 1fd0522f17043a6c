package vidgrab

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mohaanymo/vidgrab/internal/models"
	"github.com/mohaanymo/vidgrab/internal/platform"
	"github.com/mohaanymo/vidgrab/internal/tui"
)

// ManagerUI renders a Manager's queue in the terminal.
type ManagerUI struct {
	manager  *Manager
	autoQuit bool

	mu       sync.Mutex
	program  *tea.Program
	finished bool
}

// NewManagerUI creates a terminal UI for manager. With autoQuit the UI
// exits once Finish is called. It installs manager callbacks, so call it
// before manager.Start.
func NewManagerUI(manager *Manager, autoQuit bool) *ManagerUI {
	ui := &ManagerUI{manager: manager, autoQuit: autoQuit}

	// chain onto existing callbacks so callers keep theirs
	prevState, prevProgress := manager.onStateChange, manager.onProgress
	manager.onStateChange = func(task *Task) {
		if prevState != nil {
			prevState(task)
		}
		ui.Refresh()
	}
	manager.onProgress = func(task *Task) {
		if prevProgress != nil {
			prevProgress(task)
		}
		ui.Refresh()
	}
	return ui
}

// Run starts the TUI and blocks until it exits.
func (ui *ManagerUI) Run() error {
	model := tui.NewModel(managerSource{ui.manager}, "vidgrab", ui.autoQuit)
	p := tea.NewProgram(model, tea.WithAltScreen())

	ui.mu.Lock()
	ui.program = p
	if ui.finished {
		// Send blocks until the event loop starts
		go p.Send(tui.FinishedMsg{})
	}
	ui.mu.Unlock()

	_, err := p.Run()

	ui.mu.Lock()
	ui.program = nil
	ui.mu.Unlock()
	return err
}

// Refresh forces a redraw.
func (ui *ManagerUI) Refresh() {
	ui.send(tui.RefreshMsg{})
}

// Finish tells the UI that no more work is coming. It may be called
// before Run.
func (ui *ManagerUI) Finish() {
	ui.mu.Lock()
	ui.finished = true
	ui.mu.Unlock()
	ui.send(tui.FinishedMsg{})
}

func (ui *ManagerUI) send(msg tea.Msg) {
	ui.mu.Lock()
	p := ui.program
	ui.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// managerSource adapts a Manager to the queue view.
type managerSource struct {
	m *Manager
}

func (s managerSource) Rows() []tui.Row {
	tasks := s.m.GetAllTasks()
	rows := make([]tui.Row, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, taskRow(t.Snapshot()))
	}
	return rows
}

func (s managerSource) Counts() tui.Counts {
	st := s.m.Stats()
	return tui.Counts{Active: st.Active, Pending: st.Pending, Completed: st.Completed, Failed: st.Failed}
}

func (s managerSource) Cancel(id string) error { return s.m.CancelTask(id) }
func (s managerSource) Remove(id string) error { return s.m.RemoveTask(id) }

func taskRow(info TaskInfo) tui.Row {
	row := tui.Row{
		ID:         info.ID,
		URL:        info.URL,
		Resolution: info.Progress.Resolution,
		Done:       info.Progress.CompletedSegments,
		Total:      info.Progress.TotalSegments,
		Bytes:      info.Progress.DownloadedBytes,
		Speed:      info.Progress.Speed,
		ETA:        info.Progress.ETA,
	}
	if p, err := platform.Match(info.URL); err == nil {
		row.Platform = p.Name
	}

	switch info.State {
	case TaskPending:
		row.Phase = tui.PhasePending
	case TaskDiscovering:
		row.Phase = tui.PhaseWorking
		row.Status = "discovering manifest..."
	case TaskResolving:
		row.Phase = tui.PhaseWorking
		row.Status = "resolving playlists..."
	case TaskDownloading:
		row.Phase = tui.PhaseDownloading
	case TaskMuxing:
		row.Phase = tui.PhaseMuxing
	case TaskCompleted:
		row.Phase = tui.PhaseDone
	case TaskFailed:
		row.Phase = tui.PhaseFailed
	case TaskCanceled:
		row.Phase = tui.PhaseCanceled
	}

	if info.Result != nil {
		row.Output = info.Result.OutputPath
		row.Platform = info.Result.Platform
		row.Resolution = info.Result.Resolution
	}
	if res, ok := models.ParseResolution(row.Resolution); ok {
		row.Quality = res.QualityLabel()
	}
	if info.Error != nil {
		row.Err = info.Error.Error()
	}
	if !info.StartedAt.IsZero() {
		end := info.CompletedAt
		if end.IsZero() {
			end = time.Now()
		}
		row.Elapsed = end.Sub(info.StartedAt)
	}
	return row
}
