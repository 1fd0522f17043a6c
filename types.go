package vidgrab

import (
	"github.com/mohaanymo/vidgrab/internal/engine"
	"github.com/mohaanymo/vidgrab/internal/models"
)

// Quality is the preferred quality tier.
type Quality = models.Quality

const (
	QualityDefault = models.QualityDefault
	QualityHigh    = models.QualityHigh
	QualityMedium  = models.QualityMedium
	QualityLow     = models.QualityLow
)

// ParseQuality parses "high", "medium", "low" and their short forms.
func ParseQuality(s string) (Quality, error) {
	return models.ParseQuality(s)
}

// Stage is a step of a single download.
type Stage = engine.Stage

const (
	StageIdle               = engine.StageIdle
	StageManifestDiscovered = engine.StageManifestDiscovered
	StageVariantResolved    = engine.StageVariantResolved
	StageTierSelected       = engine.StageTierSelected
	StageTracksExpanded     = engine.StageTracksExpanded
	StageSegmentsFetched    = engine.StageSegmentsFetched
	StageAssembled          = engine.StageAssembled
	StageFailed             = engine.StageFailed
)

// StageEvent reports a stage transition.
type StageEvent = engine.StageEvent

// Error kinds. Every error returned by a Downloader matches one of these
// with errors.Is.
var (
	ErrInvalidInput        = models.ErrInvalidInput
	ErrUnsupportedPlatform = models.ErrUnsupportedPlatform
	ErrFetch               = models.ErrFetch
	ErrNoMasterPlaylist    = models.ErrNoMasterPlaylist
	ErrIO                  = models.ErrIO
	ErrMux                 = models.ErrMux
)

// Error is a classified download error.
type Error = models.Error

// ErrorKind classifies an Error.
type ErrorKind = models.ErrorKind

// KindOf returns the kind of err, or an unknown kind for foreign errors.
func KindOf(err error) ErrorKind {
	return models.KindOf(err)
}

// Result describes a finished download.
type Result struct {
	// OutputPath is the muxed file.
	OutputPath string

	// ManifestURL is the variant manifest the page loaded.
	ManifestURL string

	// Platform is the profile that handled the URL.
	Platform string

	Resolution string
	TierIndex  int
	Tiers      int
	Segments   int
	Bytes      int64
}

// QualityLabel returns a label such as "720p" for the downloaded tier.
func (r *Result) QualityLabel() string {
	res, ok := models.ParseResolution(r.Resolution)
	if !ok {
		return ""
	}
	return res.QualityLabel()
}

// ProgressUpdate represents a download progress update.
type ProgressUpdate struct {
	// SegmentIndex is the index of the segment that was processed.
	SegmentIndex int

	// TrackID is "video" or "audio".
	TrackID string

	// BytesLoaded is the number of bytes downloaded for this segment.
	BytesLoaded int64

	// Completed is true if the segment was successfully downloaded.
	Completed bool

	// Error is non-nil if the segment download failed.
	Error error
}
