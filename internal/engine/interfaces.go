package engine

import (
	"context"
	"net/http"

	"github.com/mohaanymo/vidgrab/internal/models"
)

// ProgressUpdate represents a download progress update.
type ProgressUpdate struct {
	SegmentIndex int
	TrackID      string
	BytesLoaded  int64
	Completed    bool
	Error        error
}

// ProgressFunc receives progress updates. It may be called from many
// goroutines at once.
type ProgressFunc func(ProgressUpdate)

// Getter performs segment GETs.
type Getter interface {
	Do(req *http.Request) (*http.Response, error)
}

// Muxer combines a video file and an audio file into one container using
// stream copy.
type Muxer interface {
	Combine(ctx context.Context, videoPath, audioPath, outputPath string) error
}

// Resolver is the parser-side contract the engine drives.
type Resolver interface {
	Resolve(ctx context.Context, manifestURL string) (*models.VariantPlaylist, error)
	Expand(ctx context.Context, playlistURL string) (*models.MediaPlaylist, error)
}

// Inspector checks assembled media.
type Inspector interface {
	VerifyFile(path string) error
}

// Track kinds used in progress updates and metrics labels.
const (
	TrackVideo = "video"
	TrackAudio = "audio"
)
