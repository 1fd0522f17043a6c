// Package vidgrab downloads the video of a social-media post.
//
// Basic usage:
//
//	d, err := vidgrab.New(
//		vidgrab.WithQuality(vidgrab.QualityHigh),
//		vidgrab.WithOutputDir("downloads"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer d.Close()
//
//	path, err := d.Download(ctx, "https://x.com/user/status/1234567890")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// The post page is loaded in headless Chrome to find the HLS manifest it
// requests. The chosen quality tier is fetched and muxed with ffmpeg.
package vidgrab

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mohaanymo/vidgrab/internal/config"
	"github.com/mohaanymo/vidgrab/internal/discovery"
	"github.com/mohaanymo/vidgrab/internal/engine"
	"github.com/mohaanymo/vidgrab/internal/httpclient"
	"github.com/mohaanymo/vidgrab/internal/media"
	"github.com/mohaanymo/vidgrab/internal/metrics"
	"github.com/mohaanymo/vidgrab/internal/models"
	"github.com/mohaanymo/vidgrab/internal/parser"
	"github.com/mohaanymo/vidgrab/internal/platform"
	"github.com/mohaanymo/vidgrab/internal/telemetry"
)

// cookieOrigins receive the configured cookies.
var cookieOrigins = []string{"https://video.twimg.com", "https://x.com", "https://twitter.com"}

// Discoverer finds the manifest URL a page requests. See WithDiscoverer.
type Discoverer = discovery.Discoverer

// Muxer combines a video and an audio file. See WithMuxer.
type Muxer = engine.Muxer

// Downloader is the main API for downloading post videos. It is safe for
// concurrent use.
type Downloader struct {
	cfg        *config.Config
	logger     *log.Logger
	client     *http.Client
	registry   *parser.Registry
	muxer      Muxer
	discoverer Discoverer
	ownBrowser io.Closer
	progress   func(ProgressUpdate)
	onStage    func(StageEvent)
}

type options struct {
	cfg        *config.Config
	logger     *log.Logger
	muxer      Muxer
	discoverer Discoverer
	progress   func(ProgressUpdate)
	onStage    func(StageEvent)
}

// Option configures the downloader.
type Option func(*options)

func buildOptions(opts []Option) *options {
	o := &options{cfg: config.New()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New creates a Downloader with the given options.
func New(opts ...Option) (*Downloader, error) {
	o := buildOptions(opts)
	if err := o.cfg.Validate(); err != nil {
		return nil, models.NewError(models.KindInvalidInput, "configure", err)
	}
	cfg := o.cfg

	logger := o.logger
	if logger == nil {
		logger = log.Default()
	}

	client := httpclient.New(httpclient.Config{
		Timeout:         cfg.Timeout,
		MaxConnsPerHost: cfg.Threads * 2,
		Headers:         cfg.Headers,
		Cookies:         cfg.Cookies,
		CookieURLs:      cookieOrigins,
		MaxBandwidth:    cfg.MaxBandwidth,
		Tracing:         telemetry.Enabled(),
	})

	d := &Downloader{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		registry:   parser.NewRegistry(parser.NewFetcher(client, logger)),
		muxer:      o.muxer,
		discoverer: o.discoverer,
		progress:   o.progress,
		onStage:    o.onStage,
	}

	if d.muxer == nil {
		ff := engine.NewFFmpegMuxer(cfg.FFmpegPath, logger)
		if !ff.Available() {
			logger.Warn("ffmpeg not found; downloads will fail at the mux step", "path", cfg.FFmpegPath)
		}
		d.muxer = ff
	}
	if d.discoverer == nil {
		b := discovery.NewBrowser(
			discovery.WithExecPath(cfg.ChromePath),
			discovery.WithHeadful(cfg.Headful),
			discovery.WithDefaultTimeout(cfg.DiscoveryTimeout),
			discovery.WithLogger(logger),
		)
		d.discoverer, d.ownBrowser = b, b
	}

	return d, nil
}

// WithQuality sets the preferred quality tier (default: high).
func WithQuality(q Quality) Option {
	return func(o *options) {
		o.cfg.Quality = q
	}
}

// WithOutputDir sets the directory output files are written to.
func WithOutputDir(dir string) Option {
	return func(o *options) {
		o.cfg.OutputDir = dir
	}
}

// WithTempDir sets where intermediate track files are written.
func WithTempDir(dir string) Option {
	return func(o *options) {
		o.cfg.TempDir = dir
	}
}

// WithThreads sets the number of concurrent segment fetches (default: 16, max: 128).
func WithThreads(n int) Option {
	return func(o *options) {
		o.cfg.Threads = n
	}
}

// WithParallelTracks fetches the video and audio tracks at the same time.
func WithParallelTracks(parallel bool) Option {
	return func(o *options) {
		o.cfg.ParallelTracks = parallel
	}
}

// WithHeaders sets custom HTTP headers for requests.
func WithHeaders(headers map[string]string) Option {
	return func(o *options) {
		for k, v := range headers {
			o.cfg.Headers[k] = v
		}
	}
}

// WithHeader adds a single HTTP header.
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.cfg.Headers[key] = value
	}
}

// WithCookies sets cookies for HTTP requests, as a Cookie header value.
func WithCookies(cookies string) Option {
	return func(o *options) {
		o.cfg.Cookies = cookies
	}
}

// WithMaxBandwidth sets maximum download speed in bytes per second.
// Set to 0 for unlimited (default).
func WithMaxBandwidth(bytesPerSec int64) Option {
	return func(o *options) {
		o.cfg.MaxBandwidth = bytesPerSec
	}
}

// WithTimeout sets the per-request HTTP timeout (default: 30s).
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.cfg.Timeout = d
	}
}

// WithDiscoveryTimeout bounds how long the page may take to request its
// manifest (default: 10s).
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(o *options) {
		o.cfg.DiscoveryTimeout = d
	}
}

// WithPlatform restricts input to one platform: "twitter", "hls" or
// "auto" (default).
func WithPlatform(name string) Option {
	return func(o *options) {
		o.cfg.Platform = name
	}
}

// WithChrome sets the Chrome binary and whether its window is shown.
func WithChrome(path string, headful bool) Option {
	return func(o *options) {
		o.cfg.ChromePath = path
		o.cfg.Headful = headful
	}
}

// WithFFmpegPath sets the ffmpeg binary (default: "ffmpeg" from PATH).
func WithFFmpegPath(path string) Option {
	return func(o *options) {
		o.cfg.FFmpegPath = path
	}
}

// WithVerifyOutput decodes every muxed file and fails if it has no video track.
func WithVerifyOutput(verify bool) Option {
	return func(o *options) {
		o.cfg.Verify = verify
	}
}

// WithKeepTracks also writes the raw video and audio tracks next to the output.
func WithKeepTracks(keep bool) Option {
	return func(o *options) {
		o.cfg.KeepTracks = keep
	}
}

// WithRetries sets how many times the Manager re-runs a failed download.
func WithRetries(n int) Option {
	return func(o *options) {
		o.cfg.RetryAttempts = n
	}
}

// WithConfig replaces the whole configuration. Later options still apply.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		c := *cfg
		c.Headers = make(map[string]string, len(cfg.Headers))
		for k, v := range cfg.Headers {
			c.Headers[k] = v
		}
		o.cfg = &c
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMuxer replaces the ffmpeg muxer.
func WithMuxer(m Muxer) Option {
	return func(o *options) {
		o.muxer = m
	}
}

// WithDiscoverer replaces the headless browser. The Downloader does not
// close a discoverer it did not create.
func WithDiscoverer(disc Discoverer) Option {
	return func(o *options) {
		o.discoverer = disc
	}
}

// WithProgress sets a callback for segment progress. It may be called
// from many goroutines at once.
func WithProgress(fn func(ProgressUpdate)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithOnStage sets a callback for stage transitions.
func WithOnStage(fn func(StageEvent)) Option {
	return func(o *options) {
		o.onStage = fn
	}
}

// Download extracts the video of the post at pageURL and returns the path
// of the written file.
func (d *Downloader) Download(ctx context.Context, pageURL string) (string, error) {
	res, err := d.Fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}
	return res.OutputPath, nil
}

// Fetch is Download returning the full result.
func (d *Downloader) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	p, err := platform.MatchNamed(d.cfg.Platform, pageURL)
	if err != nil {
		metrics.FailuresTotal.WithLabelValues(models.KindOf(err).String()).Inc()
		return nil, err
	}

	start := time.Now()
	metrics.ActiveDownloads.Inc()
	defer metrics.ActiveDownloads.Dec()

	res, err := d.run(ctx, p, pageURL)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.DownloadsTotal.WithLabelValues(p.Name, result).Inc()
	metrics.DownloadDuration.WithLabelValues(p.Name).Observe(time.Since(start).Seconds())
	return res, err
}

// DownloadManifest skips discovery and downloads from a known variant
// manifest URL, parsed with the rules of the platform the Downloader is
// restricted to (twitter when "auto").
func (d *Downloader) DownloadManifest(ctx context.Context, manifestURL string) (string, error) {
	if !platform.IsURL(manifestURL) {
		return "", models.Errorf(models.KindInvalidInput, "download manifest", "not a URL: %q", manifestURL)
	}
	p := platform.Twitter
	if named, ok := platform.Lookup(d.cfg.Platform); ok {
		p = named
	}
	res, err := d.download(ctx, p, manifestURL)
	if err != nil {
		return "", err
	}
	return res.OutputPath, nil
}

func (d *Downloader) run(ctx context.Context, p *platform.Profile, pageURL string) (*Result, error) {
	manifestURL := pageURL
	if p.NeedsDiscovery() {
		var err error
		if manifestURL, err = d.discover(ctx, p, pageURL); err != nil {
			metrics.FailuresTotal.WithLabelValues(models.KindOf(err).String()).Inc()
			d.emit(StageEvent{Stage: StageFailed, Err: err})
			return nil, err
		}
	}
	return d.download(ctx, p, manifestURL)
}

func (d *Downloader) discover(ctx context.Context, p *platform.Profile, pageURL string) (string, error) {
	d.logger.Info("discovering manifest", "platform", p.Name, "page", pageURL)
	start := time.Now()
	manifestURL, err := d.discoverer.Discover(ctx, pageURL, p.ManifestPattern, d.cfg.DiscoveryTimeout)
	metrics.StageDuration.WithLabelValues("discover").Observe(time.Since(start).Seconds())
	if err != nil {
		if models.KindOf(err) == models.KindUnknown {
			err = models.NewError(models.KindFetch, "discover", err)
		}
		return "", err
	}
	if !platform.IsURL(manifestURL) {
		return "", models.Errorf(models.KindFetch, "discover", "discoverer returned %q", manifestURL)
	}
	return manifestURL, nil
}

func (d *Downloader) download(ctx context.Context, p *platform.Profile, manifestURL string) (*Result, error) {
	eng := d.engine(p)
	res, err := eng.Download(ctx, manifestURL, d.cfg.Quality)
	if err != nil {
		return nil, err
	}
	return &Result{
		OutputPath:  res.OutputPath,
		ManifestURL: manifestURL,
		Platform:    p.Name,
		Resolution:  res.Tier.Resolution,
		TierIndex:   res.TierIndex,
		Tiers:       res.Tiers,
		Segments:    res.Segments,
		Bytes:       res.Bytes,
	}, nil
}

// engine wires a pipeline for one download.
func (d *Downloader) engine(p *platform.Profile) *engine.Engine {
	var progress engine.ProgressFunc
	if d.progress != nil {
		progress = func(u engine.ProgressUpdate) {
			d.progress(ProgressUpdate{
				SegmentIndex: u.SegmentIndex,
				TrackID:      u.TrackID,
				BytesLoaded:  u.BytesLoaded,
				Completed:    u.Completed,
				Error:        u.Error,
			})
		}
	}

	asmOpts := []engine.AssemblerOption{
		engine.WithTempDir(d.cfg.TempDir),
		engine.WithKeepTracks(d.cfg.KeepTracks),
		engine.WithAssemblerLogger(d.logger),
	}
	if d.cfg.Verify {
		asmOpts = append(asmOpts, engine.WithInspector(media.Verifier{}))
	}

	return engine.New(
		d.registry.For(p),
		engine.NewSegmentFetcher(d.cfg.Threads, d.client, progress, d.logger),
		engine.NewAssembler(d.muxer, d.cfg.OutputDir, asmOpts...),
		engine.WithParallelTracks(d.cfg.ParallelTracks),
		engine.WithOnStage(d.onStage),
		engine.WithLogger(d.logger.With("platform", p.Name)),
		engine.WithTracer(telemetry.Tracer()),
	)
}

func (d *Downloader) emit(ev StageEvent) {
	if d.onStage != nil {
		d.onStage(ev)
	}
}

// Config returns a copy of the effective configuration.
func (d *Downloader) Config() config.Config {
	return *d.cfg
}

// Close releases the browser if the Downloader started one.
// Always call Close() when done, preferably with defer.
func (d *Downloader) Close() error {
	if d.ownBrowser != nil {
		if err := d.ownBrowser.Close(); err != nil {
			return fmt.Errorf("close browser: %w", err)
		}
	}
	return nil
}
