package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type fakeSource struct {
	rows     []Row
	canceled []string
	removed  []string
}

func (f *fakeSource) Rows() []Row { return f.rows }

func (f *fakeSource) Counts() Counts {
	var c Counts
	for _, r := range f.rows {
		switch r.Phase {
		case PhasePending:
			c.Pending++
		case PhaseDone:
			c.Completed++
		case PhaseFailed:
			c.Failed++
		case PhaseWorking, PhaseDownloading, PhaseMuxing:
			c.Active++
		}
	}
	return c
}

func (f *fakeSource) Cancel(id string) error { f.canceled = append(f.canceled, id); return nil }
func (f *fakeSource) Remove(id string) error { f.removed = append(f.removed, id); return nil }

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestViewRendersRows(t *testing.T) {
	src := &fakeSource{rows: []Row{
		{ID: "first", Phase: PhaseDownloading, Platform: "twitter", Quality: "720p", Done: 3, Total: 6, Bytes: 2048},
		{ID: "second", Phase: PhaseFailed, Err: "fetch failed: HTTP 403"},
		{ID: "third", Phase: PhaseWorking, Status: "discovering manifest..."},
	}}
	view := NewModel(src, "vidgrab", false).View()

	for _, want := range []string{"vidgrab", "first", "3/6 segs", "720p", "HTTP 403", "discovering manifest...", "50.0%"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestKeysActOnCursorRow(t *testing.T) {
	src := &fakeSource{rows: []Row{{ID: "a"}, {ID: "b"}}}
	m := NewModel(src, "vidgrab", false)

	m.Update(key("j"))
	m.Update(key("c"))
	m.Update(key("r"))
	if len(src.canceled) != 1 || src.canceled[0] != "b" {
		t.Errorf("canceled = %v, want [b]", src.canceled)
	}
	if len(src.removed) != 1 || src.removed[0] != "b" {
		t.Errorf("removed = %v, want [b]", src.removed)
	}
	if m.cursor != 0 {
		t.Errorf("cursor = %d after removing last row, want 0", m.cursor)
	}

	if _, cmd := m.Update(key("q")); !isQuit(cmd) {
		t.Error("q did not quit")
	}
}

func TestFinishedMsg(t *testing.T) {
	src := &fakeSource{}
	if _, cmd := NewModel(src, "x", false).Update(FinishedMsg{}); isQuit(cmd) {
		t.Error("quit without auto-quit")
	}
	if _, cmd := NewModel(src, "x", true).Update(FinishedMsg{}); !isQuit(cmd) {
		t.Error("auto-quit model did not quit")
	}
}

func TestFormatHelpers(t *testing.T) {
	tests := []struct{ got, want string }{
		{FormatBytes(512), "512 B"},
		{FormatBytes(1536), "1.5 KB"},
		{FormatBytes(3 << 20), "3.0 MB"},
		{FormatDuration(500 * time.Millisecond), "0s"},
		{FormatDuration(65 * time.Second), "1m05s"},
		{FormatDuration(2*time.Hour + 3*time.Minute), "2h03m"},
		{truncate("abcdefgh", 6), "abc..."},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
