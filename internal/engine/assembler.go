package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/mohaanymo/vidgrab/internal/models"
)

// Assembler writes fetched tracks to disk and muxes them into the output file.
type Assembler struct {
	muxer      Muxer
	outputDir  string
	tempDir    string
	keepTracks bool
	inspector  Inspector
	logger     *log.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithTempDir sets where intermediate track files are written.
func WithTempDir(dir string) AssemblerOption {
	return func(a *Assembler) { a.tempDir = dir }
}

// WithKeepTracks also keeps the raw track files next to the output.
func WithKeepTracks(keep bool) AssemblerOption {
	return func(a *Assembler) { a.keepTracks = keep }
}

// WithInspector verifies each assembled file with i.
func WithInspector(i Inspector) AssemblerOption {
	return func(a *Assembler) { a.inspector = i }
}

// WithAssemblerLogger sets the logger.
func WithAssemblerLogger(l *log.Logger) AssemblerOption {
	return func(a *Assembler) { a.logger = l }
}

// NewAssembler creates an assembler writing into outputDir.
func NewAssembler(muxer Muxer, outputDir string, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		muxer:     muxer,
		outputDir: outputDir,
		tempDir:   os.TempDir(),
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.outputDir == "" {
		a.outputDir = "."
	}
	return a
}

// OutputName derives the output file name from the video track name and
// the resolution label.
func OutputName(videoName, resolution string) string {
	if videoName == "" {
		videoName = "video"
	}
	if resolution == "" {
		return videoName + ".mp4"
	}
	return videoName + "_" + resolution + ".mp4"
}

// Assemble writes video and audio to uniquely named temp files, muxes them
// and returns the output path. The temp files are removed on every path.
// audio may be nil for streams with muxed-in sound.
func (a *Assembler) Assemble(ctx context.Context, video, audio *models.MediaPlaylist, resolution string) (out string, err error) {
	if video == nil || !video.Fetched() {
		return "", models.Errorf(models.KindIO, "assemble", "video track has no data")
	}
	if audio != nil && !audio.Fetched() {
		return "", models.Errorf(models.KindIO, "assemble", "audio track has no data")
	}

	if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
		return "", models.NewError(models.KindIO, "create output dir", err)
	}
	outputPath := filepath.Join(a.outputDir, OutputName(video.Name, resolution))

	id := uuid.Must(uuid.NewV7()).String()
	videoTmp := filepath.Join(a.tempDir, fmt.Sprintf("vidgrab_%s_video.mp4", id))
	audioTmp := ""
	if audio != nil {
		audioTmp = filepath.Join(a.tempDir, fmt.Sprintf("vidgrab_%s_audio.mp4", id))
	}

	defer func() {
		var rmErrs []error
		for _, p := range []string{videoTmp, audioTmp} {
			if p == "" {
				continue
			}
			if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				rmErrs = append(rmErrs, rmErr)
			}
		}
		if err == nil && len(rmErrs) > 0 {
			out, err = "", models.NewError(models.KindIO, "remove temp files", errors.Join(rmErrs...))
		}
	}()

	if err := os.WriteFile(videoTmp, video.Bytes(), 0o644); err != nil {
		return "", models.NewError(models.KindIO, "write video track", err)
	}
	if audio != nil {
		if err := os.WriteFile(audioTmp, audio.Bytes(), 0o644); err != nil {
			return "", models.NewError(models.KindIO, "write audio track", err)
		}
	}

	a.logger.Debug("muxing", "video", videoTmp, "audio", audioTmp, "output", outputPath)
	if err := a.muxer.Combine(ctx, videoTmp, audioTmp, outputPath); err != nil {
		if models.KindOf(err) == models.KindUnknown {
			err = models.NewError(models.KindMux, "mux", err)
		}
		return "", err
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return "", models.Errorf(models.KindMux, "mux", "muxer produced no output at %s", outputPath)
	}
	if a.inspector != nil {
		if err := a.inspector.VerifyFile(outputPath); err != nil {
			return "", models.NewError(models.KindMux, "verify output", err)
		}
	}

	if a.keepTracks {
		if err := a.saveTracks(outputPath, video, audio); err != nil {
			return "", err
		}
	}

	return outputPath, nil
}

// saveTracks writes the raw track buffers beside the output file.
func (a *Assembler) saveTracks(outputPath string, video, audio *models.MediaPlaylist) error {
	base := strings.TrimSuffix(outputPath, filepath.Ext(outputPath))
	if err := os.WriteFile(base+".video.mp4", video.Bytes(), 0o644); err != nil {
		return models.NewError(models.KindIO, "keep video track", err)
	}
	if audio != nil {
		if err := os.WriteFile(base+".audio.mp4", audio.Bytes(), 0o644); err != nil {
			return models.NewError(models.KindIO, "keep audio track", err)
		}
	}
	return nil
}
