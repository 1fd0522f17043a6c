// Package media inspects MP4 data produced by the pipeline.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Eyevinn/mp4ff/mp4"
)

// ErrNoTracks is returned for files without a moov track.
var ErrNoTracks = errors.New("no tracks in moov")

// TrackInfo describes one trak box.
type TrackInfo struct {
	ID        uint32
	Handler   string // vide, soun, ...
	Timescale uint32
}

// Info summarises an MP4 file.
type Info struct {
	Fragmented bool
	Tracks     []TrackInfo
	Fragments  int
}

// HasVideo reports whether a video track is present.
func (i *Info) HasVideo() bool { return i.hasHandler("vide") }

// HasAudio reports whether an audio track is present.
func (i *Info) HasAudio() bool { return i.hasHandler("soun") }

func (i *Info) hasHandler(h string) bool {
	for _, t := range i.Tracks {
		if t.Handler == h {
			return true
		}
	}
	return false
}

// Inspect decodes data and lists its tracks.
func Inspect(data []byte) (*Info, error) {
	return inspect(bytes.NewReader(data))
}

// InspectFile decodes the file at path and lists its tracks.
func InspectFile(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return inspect(f)
}

func inspect(r io.Reader) (*Info, error) {
	file, err := mp4.DecodeFile(r)
	if err != nil {
		return nil, fmt.Errorf("decode mp4: %w", err)
	}

	info := &Info{}
	moov := file.Moov
	if file.Init != nil {
		info.Fragmented = true
		moov = file.Init.Moov
	}
	for _, seg := range file.Segments {
		info.Fragments += len(seg.Fragments)
	}
	if moov == nil {
		return nil, ErrNoTracks
	}

	for _, trak := range moov.Traks {
		ti := TrackInfo{}
		if trak.Tkhd != nil {
			ti.ID = trak.Tkhd.TrackID
		}
		if trak.Mdia != nil {
			if trak.Mdia.Hdlr != nil {
				ti.Handler = trak.Mdia.Hdlr.HandlerType
			}
			if trak.Mdia.Mdhd != nil {
				ti.Timescale = trak.Mdia.Mdhd.Timescale
			}
		}
		info.Tracks = append(info.Tracks, ti)
	}
	if len(info.Tracks) == 0 {
		return nil, ErrNoTracks
	}
	return info, nil
}

// Verifier checks that a muxed file decodes and carries at least one track.
type Verifier struct {
	// RequireAudio also demands a sound track.
	RequireAudio bool
}

// VerifyFile implements the engine's output check.
func (v Verifier) VerifyFile(path string) error {
	info, err := InspectFile(path)
	if err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	if !info.HasVideo() {
		return fmt.Errorf("verify %s: no video track", path)
	}
	if v.RequireAudio && !info.HasAudio() {
		return fmt.Errorf("verify %s: no audio track", path)
	}
	return nil
}
