// Package models defines core data structures for adaptive video streams.
package models

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// VariantPlaylist is the top-level manifest a post page loads. Tiers are kept
// in manifest order, which the platform writes highest quality first.
type VariantPlaylist struct {
	URL   string
	Tiers []*MasterPlaylist
}

// MasterPlaylist is one quality tier: a video track and the audio track it
// plays with.
type MasterPlaylist struct {
	Resolution string
	VideoURL   string
	AudioURL   string

	// Populated once the tier is selected.
	Video *MediaPlaylist
	Audio *MediaPlaylist
}

// HasAudio reports whether the tier carries a separate audio track.
func (m *MasterPlaylist) HasAudio() bool {
	return m.AudioURL != ""
}

// MediaPlaylist is an ordered list of segment URLs for one track, plus the
// fetched bytes once the segment fetcher has run.
type MediaPlaylist struct {
	Name        string
	URL         string
	SegmentURLs []string

	// Chunks[i] holds the body of SegmentURLs[i].
	Chunks [][]byte
}

// NewMediaPlaylist creates a playlist named after the last path element of rawURL.
func NewMediaPlaylist(rawURL string, segments []string) *MediaPlaylist {
	return &MediaPlaylist{
		Name:        PlaylistName(rawURL),
		URL:         rawURL,
		SegmentURLs: segments,
	}
}

// Bytes concatenates the fetched chunks in segment order.
func (m *MediaPlaylist) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(int(m.Size()))
	for _, c := range m.Chunks {
		buf.Write(c)
	}
	return buf.Bytes()
}

// Size returns the total number of fetched bytes.
func (m *MediaPlaylist) Size() int64 {
	var n int64
	for _, c := range m.Chunks {
		n += int64(len(c))
	}
	return n
}

// Fetched reports whether every segment has a chunk.
func (m *MediaPlaylist) Fetched() bool {
	return len(m.SegmentURLs) > 0 && len(m.Chunks) == len(m.SegmentURLs)
}

// PlaylistName returns the final path segment of rawURL without its query
// string and extension.
func PlaylistName(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	base := path.Base(rawURL)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if base == "/" || base == "." {
		return ""
	}
	return base
}

// Resolution represents video dimensions.
type Resolution struct {
	Width  int
	Height int
}

var resolutionRe = regexp.MustCompile(`(?:^|/)(\d{2,5})x(\d{2,5})(?:/|$)`)

// ResolutionFromPath finds a "WxH" path element in rawURL.
func ResolutionFromPath(rawURL string) (Resolution, bool) {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	m := resolutionRe.FindStringSubmatch(rawURL)
	if m == nil {
		return Resolution{}, false
	}
	return ParseResolution(m[1] + "x" + m[2])
}

// ParseResolution parses a "WxH" string.
func ParseResolution(s string) (Resolution, bool) {
	w, h, ok := strings.Cut(strings.TrimSpace(s), "x")
	if !ok {
		return Resolution{}, false
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Resolution{}, false
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Resolution{}, false
	}
	return Resolution{Width: width, Height: height}, true
}

func (r Resolution) String() string {
	if r.Width == 0 && r.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// QualityLabel returns a human-readable quality label (e.g., "1080p").
// Portrait videos are labelled by their shorter side.
func (r Resolution) QualityLabel() string {
	lines := r.Height
	if r.Width > 0 && r.Width < lines {
		lines = r.Width
	}
	switch {
	case lines >= 2160:
		return "4K"
	case lines >= 1440:
		return "1440p"
	case lines >= 1080:
		return "1080p"
	case lines >= 720:
		return "720p"
	case lines >= 480:
		return "480p"
	case lines >= 360:
		return "360p"
	case lines > 0:
		return fmt.Sprintf("%dp", lines)
	default:
		return ""
	}
}
