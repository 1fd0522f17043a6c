package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteTextfile(t *testing.T) {
	SegmentsTotal.WithLabelValues("video", "ok").Add(3)
	DownloadsTotal.WithLabelValues("twitter", "ok").Inc()

	path := filepath.Join(t.TempDir(), "vidgrab.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	for _, want := range []string{"vidgrab_segments_total", "vidgrab_downloads_total"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %s", want)
		}
	}
}
