package media

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
)

func buildInit(t *testing.T, kinds ...string) []byte {
	t.Helper()
	init := mp4.CreateEmptyInit()
	for _, k := range kinds {
		ts := uint32(90000)
		if k == "audio" {
			ts = 48000
		}
		init.AddEmptyTrack(ts, k, "und")
	}
	var buf bytes.Buffer
	if err := init.Encode(&buf); err != nil {
		t.Fatalf("encode init: %v", err)
	}
	return buf.Bytes()
}

func TestInspect(t *testing.T) {
	info, err := Inspect(buildInit(t, "video", "audio"))
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
	if !info.Fragmented {
		t.Error("Fragmented = false, want true")
	}
	if len(info.Tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(info.Tracks))
	}
	if !info.HasVideo() || !info.HasAudio() {
		t.Errorf("HasVideo=%v HasAudio=%v, want both", info.HasVideo(), info.HasAudio())
	}
	if info.Tracks[0].Timescale != 90000 {
		t.Errorf("video timescale = %d, want 90000", info.Tracks[0].Timescale)
	}
}

func TestVerifier(t *testing.T) {
	dir := t.TempDir()

	videoOnly := filepath.Join(dir, "v.mp4")
	if err := os.WriteFile(videoOnly, buildInit(t, "video"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := (Verifier{}).VerifyFile(videoOnly); err != nil {
		t.Errorf("VerifyFile(video only) error: %v", err)
	}
	if err := (Verifier{RequireAudio: true}).VerifyFile(videoOnly); err == nil {
		t.Error("VerifyFile(RequireAudio) error = nil, want missing audio")
	}

	garbage := filepath.Join(dir, "g.mp4")
	if err := os.WriteFile(garbage, []byte("not an mp4"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := (Verifier{}).VerifyFile(garbage); err == nil {
		t.Error("VerifyFile(garbage) error = nil")
	}

	if err := (Verifier{}).VerifyFile(filepath.Join(dir, "missing.mp4")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("VerifyFile(missing) error = %v, want not exist", err)
	}
}
