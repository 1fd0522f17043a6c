package vidgrab

import (
	"errors"
	"testing"
	"time"

	"github.com/mohaanymo/vidgrab/internal/tui"
)

func TestTaskRow(t *testing.T) {
	start := time.Now().Add(-time.Minute)

	tests := []struct {
		name  string
		info  TaskInfo
		check func(t *testing.T, r tui.Row)
	}{
		{
			name: "discovering",
			info: TaskInfo{ID: "a", URL: postURL, State: TaskDiscovering, StartedAt: start},
			check: func(t *testing.T, r tui.Row) {
				if r.Phase != tui.PhaseWorking || r.Status != "discovering manifest..." || r.Platform != "twitter" {
					t.Errorf("row = %+v", r)
				}
				if r.Elapsed < time.Minute {
					t.Errorf("Elapsed = %v", r.Elapsed)
				}
			},
		},
		{
			name: "downloading",
			info: TaskInfo{ID: "b", URL: postURL, State: TaskDownloading,
				Progress: TaskProgress{Resolution: "1280x720", TotalSegments: 10, CompletedSegments: 4, DownloadedBytes: 4096}},
			check: func(t *testing.T, r tui.Row) {
				if r.Phase != tui.PhaseDownloading || r.Quality != "720p" || r.Done != 4 || r.Total != 10 || r.Bytes != 4096 {
					t.Errorf("row = %+v", r)
				}
			},
		},
		{
			name: "completed",
			info: TaskInfo{ID: "c", URL: postURL, State: TaskCompleted, StartedAt: start, CompletedAt: start.Add(5 * time.Second),
				Result: &Result{OutputPath: "/out/x_640x360.mp4", Platform: "twitter", Resolution: "640x360"}},
			check: func(t *testing.T, r tui.Row) {
				if r.Phase != tui.PhaseDone || r.Output != "/out/x_640x360.mp4" || r.Quality != "360p" || r.Elapsed != 5*time.Second {
					t.Errorf("row = %+v", r)
				}
			},
		},
		{
			name: "failed",
			info: TaskInfo{ID: "d", URL: "https://example.com/x", State: TaskFailed, Error: errors.New("boom")},
			check: func(t *testing.T, r tui.Row) {
				if r.Phase != tui.PhaseFailed || r.Err != "boom" || r.Platform != "" {
					t.Errorf("row = %+v", r)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, taskRow(tt.info))
		})
	}
}

func TestNewManagerUIChainsCallbacks(t *testing.T) {
	var called int
	m := NewManager(
		WithDefaultOptions(WithDiscoverer(&fakeDiscoverer{})),
		WithOnStateChange(func(*Task) { called++ }),
	)
	ui := NewManagerUI(m, true)

	// no program yet, so refreshing is a no-op
	m.notifyStateChange(&Task{})
	ui.Finish()
	if called != 1 {
		t.Errorf("previous callback called %d times, want 1", called)
	}

	src := managerSource{m}
	if rows := src.Rows(); len(rows) != 0 {
		t.Errorf("Rows() = %v", rows)
	}
	if c := src.Counts(); c != (tui.Counts{}) {
		t.Errorf("Counts() = %+v", c)
	}
}
