package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/mohaanymo/vidgrab"
	"github.com/mohaanymo/vidgrab/internal/config"
	"github.com/mohaanymo/vidgrab/internal/metrics"
	"github.com/mohaanymo/vidgrab/internal/telemetry"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

// cliFlags holds flags that need parsing before they land in the config.
type cliFlags struct {
	inputs       []string
	keepAlive    bool
	quality      string
	high         bool
	medium       bool
	low          bool
	headers      []string
	maxBandwidth string

	envErr error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdin, os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	cfg := config.New()
	fl := &cliFlags{}
	// environment first so flags override it
	fl.envErr = cfg.LoadEnv()

	cmd := &cobra.Command{
		Use:   "vidgrab [flags] [URL...]",
		Short: "Download the video embedded in a social media post",
		Long: `vidgrab loads a post page in headless Chrome, captures the HLS manifest the
player requests, picks a resolution tier and muxes video and audio into one
MP4 with ffmpeg. Direct .m3u8 URLs are downloaded without a browser.`,
		Example: `  vidgrab https://x.com/user/status/1790000000000000000
  vidgrab --low -o ~/Videos -i URL1 -i URL2
  vidgrab -a < urls.txt`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.ShowVersion {
				fmt.Fprintf(stdout, "vidgrab %s (%s)\n", version, commit)
				return nil
			}
			if err := applyFlags(cfg, fl); err != nil {
				return err
			}
			urls := append(append([]string{}, fl.inputs...), args...)
			if len(urls) == 0 && !fl.keepAlive {
				return errors.New("no URL given, pass one or more URLs or use --keep-alive")
			}
			return run(cmd.Context(), cfg, urls, fl.keepAlive, stdin, stdout)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&fl.inputs, "input", "i", nil, "post or manifest URL (repeatable)")
	f.BoolVarP(&fl.keepAlive, "keep-alive", "a", false, "read more URLs from stdin until \"exit\"")
	f.StringVarP(&fl.quality, "quality", "q", cfg.Quality.String(), "resolution tier: default, high, medium, low")
	f.BoolVar(&fl.high, "high", false, "same as --quality high")
	f.BoolVar(&fl.medium, "medium", false, "same as --quality medium")
	f.BoolVar(&fl.low, "low", false, "same as --quality low")
	f.StringVarP(&cfg.OutputDir, "output-dir", "o", cfg.OutputDir, "directory for finished files")
	f.IntVarP(&cfg.Threads, "threads", "n", cfg.Threads, "concurrent segment downloads per track")
	f.IntVarP(&cfg.MaxConcurrent, "concurrent", "c", cfg.MaxConcurrent, "downloads running at once")
	f.BoolVarP(&cfg.ParallelTracks, "parallel-tracks", "P", cfg.ParallelTracks, "fetch video and audio at the same time")
	f.StringArrayVarP(&fl.headers, "header", "H", nil, "extra request header \"Key: Value\" (repeatable)")
	f.StringVar(&cfg.Cookies, "cookie", cfg.Cookies, "cookies for media requests")
	f.StringVar(&fl.maxBandwidth, "max-bandwidth", "", "bandwidth cap, e.g. 2M (bytes per second)")
	f.StringVar(&cfg.FFmpegPath, "ffmpeg", cfg.FFmpegPath, "ffmpeg binary")
	f.StringVar(&cfg.ChromePath, "chrome", cfg.ChromePath, "Chrome or Chromium binary (default: search PATH)")
	f.BoolVar(&cfg.Headful, "headful", cfg.Headful, "show the browser window")
	f.DurationVar(&cfg.DiscoveryTimeout, "discovery-timeout", cfg.DiscoveryTimeout, "how long to wait for the page to request a manifest")
	f.IntVar(&cfg.RetryAttempts, "retries", cfg.RetryAttempts, "retries per failed download")
	f.StringVar(&cfg.Platform, "platform", cfg.Platform, "platform profile: auto, twitter, hls")
	f.BoolVar(&cfg.Verify, "verify", cfg.Verify, "check the muxed file has video and audio tracks")
	f.BoolVar(&cfg.KeepTracks, "keep-tracks", cfg.KeepTracks, "keep the separate video and audio files")
	f.BoolVar(&cfg.NoProgress, "no-progress", cfg.NoProgress, "plain log output instead of the live view")
	f.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "write Prometheus metrics to this file on exit")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, error")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "debug logging")
	f.BoolVar(&cfg.ShowVersion, "version", false, "print the version and exit")
	cmd.MarkFlagsMutuallyExclusive("high", "medium", "low")

	return cmd
}

// applyFlags folds the raw flag values into cfg and validates it.
func applyFlags(cfg *config.Config, fl *cliFlags) error {
	if fl.envErr != nil {
		return fl.envErr
	}

	q, err := vidgrab.ParseQuality(fl.quality)
	if err != nil {
		return err
	}
	switch {
	case fl.high:
		q = vidgrab.QualityHigh
	case fl.medium:
		q = vidgrab.QualityMedium
	case fl.low:
		q = vidgrab.QualityLow
	}
	cfg.Quality = q

	for _, h := range fl.headers {
		k, v, ok := config.ParseHeader(h)
		if !ok {
			return fmt.Errorf("invalid header %q, want \"Key: Value\"", h)
		}
		cfg.Headers[k] = v
	}

	if fl.maxBandwidth != "" {
		bw, err := config.ParseBandwidth(fl.maxBandwidth)
		if err != nil {
			return err
		}
		cfg.MaxBandwidth = bw
	}

	// stdin carries URLs in keep-alive mode, so the live view is off
	if fl.keepAlive {
		cfg.NoProgress = true
	}

	return cfg.Validate()
}

func newLogger(cfg *config.Config, w io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cfg.Verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		Prefix:          "vidgrab",
	}), nil
}

func run(ctx context.Context, cfg *config.Config, urls []string, keepAlive bool, stdin io.Reader, stdout io.Writer) error {
	// the live view owns the terminal
	var logOut io.Writer = os.Stderr
	if !cfg.NoProgress {
		logOut = io.Discard
	}
	logger, err := newLogger(cfg, logOut)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Init(ctx, "vidgrab", version)
	if err != nil {
		logger.Warn("tracing disabled", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	managerOpts := []vidgrab.ManagerOption{
		vidgrab.WithMaxConcurrent(cfg.MaxConcurrent),
		vidgrab.WithManagerLogger(logger),
		vidgrab.WithDefaultOptions(vidgrab.WithConfig(cfg), vidgrab.WithLogger(logger)),
	}
	if cfg.NoProgress {
		managerOpts = append(managerOpts, vidgrab.WithOnComplete(func(task *vidgrab.Task) {
			if res := task.Snapshot().Result; res != nil {
				fmt.Fprintln(stdout, res.OutputPath)
			}
		}))
	}
	m := vidgrab.NewManager(managerOpts...)
	var ui *vidgrab.ManagerUI
	if !cfg.NoProgress {
		// callbacks must be in place before the workers run
		ui = vidgrab.NewManagerUI(m, true)
	}
	m.Start()
	defer m.Stop()
	stopOnCancel := context.AfterFunc(ctx, m.Stop)
	defer stopOnCancel()

	for _, u := range urls {
		if _, err := m.AddTask("", u); err != nil {
			return err
		}
	}

	if cfg.NoProgress {
		if keepAlive {
			readURLs(ctx, m, stdin, logger)
		}
		m.Wait()
	} else {
		go func() {
			m.Wait()
			ui.Finish()
		}()
		if err := ui.Run(); err != nil {
			return fmt.Errorf("terminal UI: %w", err)
		}
	}

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("write metrics", "path", cfg.MetricsFile, "err", err)
		}
	}

	return summarize(m, stdout, !cfg.NoProgress)
}

// readURLs queues one task per non-empty stdin line until EOF, "exit" or
// cancellation.
func readURLs(ctx context.Context, m *vidgrab.Manager, stdin io.Reader, logger *log.Logger) {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case strings.EqualFold(line, "exit"):
				return
			default:
				if _, err := m.AddTask("", line); err != nil {
					logger.Error("queue url", "url", line, "err", err)
				}
			}
		}
	}
}

// summarize reports failed tasks and returns an error if any download did
// not complete. printOutputs lists finished files, which the live view hid.
func summarize(m *vidgrab.Manager, stdout io.Writer, printOutputs bool) error {
	var failed int
	for _, task := range m.GetAllTasks() {
		info := task.Snapshot()
		switch info.State {
		case vidgrab.TaskCompleted:
			if printOutputs && info.Result != nil {
				fmt.Fprintln(stdout, info.Result.OutputPath)
			}
		case vidgrab.TaskFailed:
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", info.URL, info.Error)
		default:
			failed++
			fmt.Fprintf(os.Stderr, "%s: %s\n", info.URL, info.State)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(m.GetAllTasks()))
	}
	return nil
}
