// Package engine turns a variant manifest URL into a finished media file.
package engine

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/mohaanymo/vidgrab/internal/metrics"
	"github.com/mohaanymo/vidgrab/internal/models"
)

// Stage is a step of the download state machine.
type Stage int

const (
	StageIdle Stage = iota
	StageManifestDiscovered
	StageVariantResolved
	StageTierSelected
	StageTracksExpanded
	StageSegmentsFetched
	StageAssembled
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageManifestDiscovered:
		return "manifest_discovered"
	case StageVariantResolved:
		return "variant_resolved"
	case StageTierSelected:
		return "tier_selected"
	case StageTracksExpanded:
		return "tracks_expanded"
	case StageSegmentsFetched:
		return "segments_fetched"
	case StageAssembled:
		return "assembled"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StageEvent reports a state transition. Fields are filled as they become
// known.
type StageEvent struct {
	Stage      Stage
	Tiers      int
	TierIndex  int
	Resolution string
	Segments   int
	OutputPath string
	Err        error
}

// Result describes a finished download.
type Result struct {
	OutputPath string
	Tier       *models.MasterPlaylist
	TierIndex  int
	Tiers      int
	Segments   int
	Bytes      int64
}

// Engine is the main download orchestrator.
type Engine struct {
	resolver       Resolver
	fetcher        *SegmentFetcher
	assembler      *Assembler
	parallelTracks bool
	onStage        func(StageEvent)
	logger         *log.Logger
	tracer         trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallelTracks fetches the video and audio tracks at the same time.
func WithParallelTracks(parallel bool) Option {
	return func(e *Engine) { e.parallelTracks = parallel }
}

// WithOnStage sets a callback for state transitions.
func WithOnStage(fn func(StageEvent)) Option {
	return func(e *Engine) { e.onStage = fn }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer used for per-stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New creates an Engine from its collaborators.
func New(resolver Resolver, fetcher *SegmentFetcher, assembler *Assembler, opts ...Option) *Engine {
	e := &Engine{
		resolver:  resolver,
		fetcher:   fetcher,
		assembler: assembler,
		logger:    log.Default(),
		tracer:    noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Download resolves manifestURL, picks the tier for quality, fetches its
// tracks and assembles them. Every failure is a classified *models.Error.
func (e *Engine) Download(ctx context.Context, manifestURL string, quality models.Quality) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.download",
		trace.WithAttributes(attribute.String("manifest.url", manifestURL), attribute.String("quality", quality.String())))
	defer span.End()

	res, err := e.download(ctx, manifestURL, quality)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.FailuresTotal.WithLabelValues(models.KindOf(err).String()).Inc()
		e.emit(StageEvent{Stage: StageFailed, Err: err})
		return nil, err
	}
	span.SetAttributes(attribute.String("output.path", res.OutputPath), attribute.Int64("bytes", res.Bytes))
	return res, nil
}

func (e *Engine) download(ctx context.Context, manifestURL string, quality models.Quality) (*Result, error) {
	e.emit(StageEvent{Stage: StageManifestDiscovered})
	e.logger.Info("manifest discovered", "url", manifestURL)

	var variant *models.VariantPlaylist
	err := e.stage(ctx, "resolve", func(ctx context.Context) error {
		var err error
		variant, err = e.resolver.Resolve(ctx, manifestURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(variant.Tiers) == 0 {
		return nil, models.Errorf(models.KindNoMasterPlaylist, "resolve", "no quality tiers in %s", manifestURL)
	}
	e.emit(StageEvent{Stage: StageVariantResolved, Tiers: len(variant.Tiers)})
	e.logger.Debug("variant resolved", "tiers", len(variant.Tiers))

	idx := SelectTier(len(variant.Tiers), quality)
	tier := variant.Tiers[idx]
	e.emit(StageEvent{Stage: StageTierSelected, Tiers: len(variant.Tiers), TierIndex: idx, Resolution: tier.Resolution})
	e.logger.Info("tier selected", "index", idx, "of", len(variant.Tiers), "resolution", tier.Resolution, "quality", quality)

	err = e.stage(ctx, "expand", func(ctx context.Context) error {
		return e.expand(ctx, tier)
	})
	if err != nil {
		return nil, err
	}
	segments := len(tier.Video.SegmentURLs)
	if tier.Audio != nil {
		segments += len(tier.Audio.SegmentURLs)
	}
	e.emit(StageEvent{Stage: StageTracksExpanded, Tiers: len(variant.Tiers), TierIndex: idx, Resolution: tier.Resolution, Segments: segments})

	err = e.stage(ctx, "fetch", func(ctx context.Context) error {
		return e.fetchTracks(ctx, tier)
	})
	if err != nil {
		return nil, err
	}
	e.emit(StageEvent{Stage: StageSegmentsFetched, Resolution: tier.Resolution, Segments: segments})

	var output string
	err = e.stage(ctx, "assemble", func(ctx context.Context) error {
		var err error
		output, err = e.assembler.Assemble(ctx, tier.Video, tier.Audio, tier.Resolution)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.emit(StageEvent{Stage: StageAssembled, Resolution: tier.Resolution, Segments: segments, OutputPath: output})

	bytes := tier.Video.Size()
	if tier.Audio != nil {
		bytes += tier.Audio.Size()
	}
	e.logger.Info("assembled", "output", output, "segments", segments, "bytes", bytes)

	return &Result{
		OutputPath: output,
		Tier:       tier,
		TierIndex:  idx,
		Tiers:      len(variant.Tiers),
		Segments:   segments,
		Bytes:      bytes,
	}, nil
}

// expand lists the segments of the tier's tracks. A track without segments
// means the manifest did not describe a downloadable stream.
func (e *Engine) expand(ctx context.Context, tier *models.MasterPlaylist) error {
	video, err := e.resolver.Expand(ctx, tier.VideoURL)
	if err != nil {
		return err
	}
	if len(video.SegmentURLs) == 0 {
		return models.Errorf(models.KindNoMasterPlaylist, "expand", "video playlist %s has no segments", tier.VideoURL)
	}
	tier.Video = video

	if !tier.HasAudio() {
		return nil
	}
	audio, err := e.resolver.Expand(ctx, tier.AudioURL)
	if err != nil {
		return err
	}
	if len(audio.SegmentURLs) == 0 {
		return models.Errorf(models.KindNoMasterPlaylist, "expand", "audio playlist %s has no segments", tier.AudioURL)
	}
	tier.Audio = audio
	return nil
}

// fetchTracks downloads the tier's tracks, one after the other unless
// parallel tracks are enabled.
func (e *Engine) fetchTracks(ctx context.Context, tier *models.MasterPlaylist) error {
	tracks := []struct {
		id string
		mp *models.MediaPlaylist
	}{{TrackVideo, tier.Video}}
	if tier.Audio != nil {
		tracks = append(tracks, struct {
			id string
			mp *models.MediaPlaylist
		}{TrackAudio, tier.Audio})
	}

	if !e.parallelTracks {
		for _, t := range tracks {
			chunks, err := e.fetcher.FetchAll(ctx, t.id, t.mp.SegmentURLs)
			if err != nil {
				return err
			}
			t.mp.Chunks = chunks
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tracks {
		t := t
		g.Go(func() error {
			chunks, err := e.fetcher.FetchAll(gctx, t.id, t.mp.SegmentURLs)
			if err != nil {
				return err
			}
			t.mp.Chunks = chunks
			return nil
		})
	}
	return g.Wait()
}

// stage runs fn inside a span and records its duration.
func (e *Engine) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "engine."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("stage failed", "stage", name, "err", err)
	}
	return err
}

func (e *Engine) emit(ev StageEvent) {
	if e.onStage != nil {
		e.onStage(ev)
	}
}
