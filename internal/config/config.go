// Package config provides configuration types for the downloader.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohaanymo/vidgrab/internal/models"
)

// Common errors.
var (
	ErrInvalidQuality  = errors.New("invalid quality")
	ErrInvalidPlatform = errors.New("invalid platform")
)

// Config holds all application configuration.
type Config struct {
	// Output
	OutputDir  string
	TempDir    string
	Quality    models.Quality
	KeepTracks bool
	Verify     bool

	// Download settings
	Threads        int
	ParallelTracks bool
	MaxConcurrent  int
	RetryAttempts  int
	RetryDelay     time.Duration
	Timeout        time.Duration
	MaxBandwidth   int64 // bytes per second, 0 = unlimited

	// HTTP settings
	Headers map[string]string
	Cookies string

	// Discovery
	Platform         string // auto, twitter, hls
	DiscoveryTimeout time.Duration
	ChromePath       string
	Headful          bool

	// Muxer
	FFmpegPath string

	// UI/Logging
	NoProgress  bool
	Verbose     bool
	LogLevel    string
	MetricsFile string
	ShowVersion bool
}

// Default configuration values.
const (
	DefaultThreads          = 16
	DefaultMaxConcurrent    = 3
	DefaultRetryAttempts    = 0
	DefaultRetryDelay       = time.Second
	DefaultTimeout          = 30 * time.Second
	DefaultDiscoveryTimeout = 10 * time.Second
	DefaultFFmpegPath       = "ffmpeg"
	DefaultPlatform         = "auto"
	DefaultLogLevel         = "info"

	MaxThreads       = 128
	MinThreads       = 1
	MaxConcurrent    = 20
	MaxRetryAttempts = 10
)

// EnvPrefix prefixes every environment variable read by LoadEnv.
const EnvPrefix = "VIDGRAB_"

// New returns a Config with sensible defaults.
func New() *Config {
	return &Config{
		OutputDir:        ".",
		Threads:          DefaultThreads,
		MaxConcurrent:    DefaultMaxConcurrent,
		RetryAttempts:    DefaultRetryAttempts,
		RetryDelay:       DefaultRetryDelay,
		Timeout:          DefaultTimeout,
		DiscoveryTimeout: DefaultDiscoveryTimeout,
		FFmpegPath:       DefaultFFmpegPath,
		Platform:         DefaultPlatform,
		LogLevel:         DefaultLogLevel,
		Headers:          make(map[string]string),
	}
}

// Validate checks if the configuration is valid and normalizes values.
func (c *Config) Validate() error {
	if c.Quality < models.QualityDefault || c.Quality > models.QualityLow {
		return fmt.Errorf("%w: %d", ErrInvalidQuality, c.Quality)
	}

	switch c.Platform {
	case "":
		c.Platform = DefaultPlatform
	case "auto", "twitter", "hls":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPlatform, c.Platform)
	}

	c.Threads = clamp(c.Threads, MinThreads, MaxThreads)
	c.MaxConcurrent = clamp(c.MaxConcurrent, 1, MaxConcurrent)
	c.RetryAttempts = clamp(c.RetryAttempts, 0, MaxRetryAttempts)

	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = DefaultFFmpegPath
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if c.Timeout < 0 {
		c.Timeout = 0
	}
	if c.MaxBandwidth < 0 {
		c.MaxBandwidth = 0
	}
	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}

	return nil
}

// LoadEnv fills fields from VIDGRAB_* environment variables. Values already
// set explicitly by the caller should be applied after LoadEnv.
func (c *Config) LoadEnv() error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("OUTPUT_DIR", &c.OutputDir)
	str("TEMP_DIR", &c.TempDir)
	str("COOKIES", &c.Cookies)
	str("PLATFORM", &c.Platform)
	str("CHROME_PATH", &c.ChromePath)
	str("FFMPEG_PATH", &c.FFmpegPath)
	str("LOG_LEVEL", &c.LogLevel)
	str("METRICS_FILE", &c.MetricsFile)
	num("THREADS", &c.Threads)
	num("MAX_CONCURRENT", &c.MaxConcurrent)
	num("RETRIES", &c.RetryAttempts)
	dur("TIMEOUT", &c.Timeout)
	dur("DISCOVERY_TIMEOUT", &c.DiscoveryTimeout)
	flag("PARALLEL_TRACKS", &c.ParallelTracks)
	flag("VERIFY", &c.Verify)
	flag("NO_PROGRESS", &c.NoProgress)

	if v, ok := lookup("QUALITY"); ok {
		q, err := models.ParseQuality(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sQUALITY: %w", EnvPrefix, err))
		} else {
			c.Quality = q
		}
	}
	if v, ok := lookup("MAX_BANDWIDTH"); ok {
		n, err := ParseBandwidth(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_BANDWIDTH: %w", EnvPrefix, err))
		} else {
			c.MaxBandwidth = n
		}
	}

	return errors.Join(errs...)
}

// ParseBandwidth parses a byte rate such as "500K", "2M" or "1048576".
func ParseBandwidth(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(strings.TrimSuffix(s, "/S"), "B")
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'K':
		mult = 1024
	case 'M':
		mult = 1024 * 1024
	case 'G':
		mult = 1024 * 1024 * 1024
	}
	if mult > 1 {
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid bandwidth %q", s)
	}
	return int64(f * float64(mult)), nil
}

// ParseHeader splits a "Key: Value" header line.
func ParseHeader(h string) (string, string, bool) {
	k, v, ok := strings.Cut(h, ":")
	if !ok {
		return "", "", false
	}
	k = strings.TrimSpace(k)
	if k == "" {
		return "", "", false
	}
	return k, strings.TrimSpace(v), true
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
