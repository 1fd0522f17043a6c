package platform

import (
	"errors"
	"testing"

	"github.com/mohaanymo/vidgrab/internal/models"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr error
	}{
		{"twitter", "https://twitter.com/nasa/status/1234567890", "twitter", nil},
		{"x", "https://x.com/nasa/status/1234567890?s=20", "twitter", nil},
		{"x trailing path", "https://x.com/nasa/status/1234567890/video/1", "twitter", nil},
		{"direct hls", "https://cdn.example.com/live/master.m3u8?token=1", "hls", nil},
		{"profile page", "https://x.com/nasa", "", models.ErrUnsupportedPlatform},
		{"other site", "https://example.com/watch?v=1", "", models.ErrUnsupportedPlatform},
		{"empty", "", "", models.ErrInvalidInput},
		{"not a url", "hello world", "", models.ErrInvalidInput},
		{"no scheme", "x.com/nasa/status/1", "", models.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Match(tt.url)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Match(%q) error = %v, want %v", tt.url, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Match(%q) unexpected error: %v", tt.url, err)
			}
			if p.Name != tt.want {
				t.Errorf("Match(%q) = %s, want %s", tt.url, p.Name, tt.want)
			}
		})
	}
}

func TestMatchNamed(t *testing.T) {
	if _, err := MatchNamed("hls", "https://x.com/nasa/status/1"); !errors.Is(err, models.ErrUnsupportedPlatform) {
		t.Errorf("MatchNamed(hls, twitter url) error = %v, want unsupported platform", err)
	}
	if _, err := MatchNamed("vimeo", "https://vimeo.com/1"); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("MatchNamed(vimeo) error = %v, want invalid input", err)
	}
	p, err := MatchNamed("auto", "https://x.com/nasa/status/1")
	if err != nil || p != Twitter {
		t.Errorf("MatchNamed(auto) = %v, %v, want twitter", p, err)
	}
}

func TestMatchesManifest(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://video.twimg.com/ext_tw_video/1/pu/pl/abc.m3u8?tag=12&container=fmp4", true},
		{"https://video.twimg.com/amplify_video/1/pl/abc.m3u8?tag=14", true},
		{"https://video.twimg.com/ext_tw_video/1/pu/pl/avc1/1280x720/abc.m3u8", false},
		{"https://pbs.twimg.com/ext_tw_video_thumb/1/pu/img/a.jpg?tag=1", false},
	}

	for _, tt := range tests {
		if got := Twitter.MatchesManifest(tt.url); got != tt.want {
			t.Errorf("MatchesManifest(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestStripQuery(t *testing.T) {
	if got := StripQuery("https://a/b.m3u8?tag=1#x"); got != "https://a/b.m3u8" {
		t.Errorf("StripQuery = %q", got)
	}
	if got := StripQuery("https://a/b.m3u8"); got != "https://a/b.m3u8" {
		t.Errorf("StripQuery = %q", got)
	}
}
