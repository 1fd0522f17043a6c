package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mohaanymo/vidgrab/internal/metrics"
	"github.com/mohaanymo/vidgrab/internal/models"
)

// FFmpegMuxer combines tracks by running ffmpeg with stream copy.
type FFmpegMuxer struct {
	path   string
	logger *log.Logger
}

// NewFFmpegMuxer creates a muxer that runs the ffmpeg binary at path,
// looked up in PATH when it has no separator.
func NewFFmpegMuxer(path string, logger *log.Logger) *FFmpegMuxer {
	if path == "" {
		path = "ffmpeg"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FFmpegMuxer{path: path, logger: logger}
}

// Available reports whether the ffmpeg binary can be found.
func (m *FFmpegMuxer) Available() bool {
	_, err := exec.LookPath(m.path)
	return err == nil
}

// Args returns the ffmpeg argument list for combining the two inputs.
func (m *FFmpegMuxer) Args(videoPath, audioPath, outputPath string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", videoPath}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}
	return append(args, "-c", "copy", outputPath)
}

// Combine muxes videoPath and audioPath into outputPath. An empty audioPath
// remuxes the video alone. Spawn failures and non-zero exits are ErrMux.
func (m *FFmpegMuxer) Combine(ctx context.Context, videoPath, audioPath, outputPath string) error {
	args := m.Args(videoPath, audioPath, outputPath)
	m.logger.Debug("running muxer", "cmd", m.path+" "+strings.Join(args, " "))

	start := time.Now()
	cmd := exec.CommandContext(ctx, m.path, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	err := cmd.Run()
	metrics.MuxDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return models.Errorf(models.KindMux, "mux", "%s exited with %d: %s",
			m.path, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
	}
	return models.NewError(models.KindMux, "mux", fmt.Errorf("run %s: %w", m.path, err))
}
