package vidgrab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mohaanymo/vidgrab/internal/discovery"
	"github.com/mohaanymo/vidgrab/internal/models"
	"github.com/mohaanymo/vidgrab/internal/platform"
)

const postURL = "https://x.com/someone/status/1790000000000000000"

// postServer serves a three-tier variant playlist with absolute URLs, the
// media playlists it references and their segments.
type postServer struct {
	*httptest.Server
	segments atomic.Int32
	failPath atomic.Value // string
}

func newPostServer(t *testing.T) *postServer {
	t.Helper()
	ps := &postServer{}
	ps.Server = httptest.NewServer(http.HandlerFunc(ps.serve))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *postServer) manifestURL() string {
	return ps.URL + "/ext_tw_video/9/pu/pl/master.m3u8"
}

func (ps *postServer) serve(w http.ResponseWriter, r *http.Request) {
	base := ps.URL + "/ext_tw_video/9/pu"
	p := r.URL.Path
	if fail, _ := ps.failPath.Load().(string); fail != "" && strings.HasSuffix(p, fail) {
		http.Error(w, "nope", http.StatusForbidden)
		return
	}
	switch {
	case strings.HasSuffix(p, "/master.m3u8"):
		fmt.Fprintf(w, "#EXTM3U\n"+
			"#EXT-X-MEDIA:NAME=\"Audio\",TYPE=AUDIO,GROUP-ID=\"audio-64000\",URI=\"%[1]s/pl/mp4a/64000/aud.m3u8\"\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720,AUDIO=\"audio-64000\"\n%[1]s/pl/avc1/1280x720/hi.m3u8\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=950000,RESOLUTION=640x360,AUDIO=\"audio-64000\"\n%[1]s/pl/avc1/640x360/mid.m3u8\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=288000,RESOLUTION=320x180,AUDIO=\"audio-64000\"\n%[1]s/pl/avc1/320x180/lo.m3u8\n", base)
	case strings.HasSuffix(p, "/aud.m3u8"):
		fmt.Fprintf(w, "#EXTM3U\n#EXT-X-MAP:URI=\"%[1]s/vid/mp4a/init.mp4\"\n#EXTINF:3.0,\n%[1]s/vid/mp4a/0/3000/a1.m4s\n#EXT-X-ENDLIST\n", base)
	case strings.HasSuffix(p, ".m3u8"):
		res := filepath.Base(filepath.Dir(p))
		fmt.Fprintf(w, "#EXTM3U\n#EXT-X-MAP:URI=\"%[1]s/vid/avc1/%[2]s/init.mp4\"\n"+
			"#EXTINF:3.0,\n%[1]s/vid/avc1/0/3000/%[2]s/v1.m4s\n#EXTINF:3.0,\n%[1]s/vid/avc1/3000/6000/%[2]s/v2.m4s\n#EXT-X-ENDLIST\n", base, res)
	default:
		ps.segments.Add(1)
		w.Write([]byte(p))
	}
}

// fakeDiscoverer answers with a fixed manifest URL or error.
type fakeDiscoverer struct {
	url     string
	err     error
	calls   atomic.Int32
	pattern *regexp.Regexp
	timeout time.Duration
	mu      sync.Mutex
}

func (f *fakeDiscoverer) Discover(_ context.Context, _ string, pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.pattern, f.timeout = pattern, timeout
	f.mu.Unlock()
	return f.url, f.err
}

// copyMuxer writes the video input to the output, or fails.
type copyMuxer struct {
	fail  bool
	calls atomic.Int32
}

func (m *copyMuxer) Combine(_ context.Context, videoPath, _, outputPath string) error {
	m.calls.Add(1)
	if m.fail {
		return errors.New("exit status 1")
	}
	data, err := os.ReadFile(videoPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

func testOptions(t *testing.T, disc Discoverer, mux Muxer, extra ...Option) []Option {
	t.Helper()
	return append([]Option{
		WithOutputDir(t.TempDir()),
		WithTempDir(t.TempDir()),
		WithDiscoverer(disc),
		WithMuxer(mux),
		WithLogger(log.New(io.Discard)),
	}, extra...)
}

func TestDownloadEndToEnd(t *testing.T) {
	srv := newPostServer(t)
	disc := &fakeDiscoverer{url: srv.manifestURL()}

	var stages []Stage
	d, err := New(testOptions(t, disc, &copyMuxer{},
		WithQuality(QualityLow),
		WithDiscoveryTimeout(3*time.Second),
		WithOnStage(func(ev StageEvent) { stages = append(stages, ev.Stage) }),
	)...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer d.Close()

	res, err := d.Fetch(context.Background(), postURL)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	if res.Platform != "twitter" || res.TierIndex != 2 || res.Tiers != 3 {
		t.Errorf("result = %+v, want twitter tier 2 of 3", res)
	}
	if filepath.Base(res.OutputPath) != "lo_320x180.mp4" {
		t.Errorf("output = %q, want lo_320x180.mp4", res.OutputPath)
	}
	if res.QualityLabel() != "180p" {
		t.Errorf("QualityLabel() = %q, want 180p", res.QualityLabel())
	}
	// video: init + 2, audio: init + 1
	if res.Segments != 5 || srv.segments.Load() != 5 {
		t.Errorf("segments = %d, fetched = %d, want 5", res.Segments, srv.segments.Load())
	}
	data, err := os.ReadFile(res.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "/320x180/v2.m4s") {
		t.Errorf("output does not end with the last video segment: %q", data)
	}

	if disc.pattern != platform.Twitter.ManifestPattern || disc.timeout != 3*time.Second {
		t.Errorf("discoverer got pattern %v timeout %v", disc.pattern, disc.timeout)
	}
	if len(stages) == 0 || stages[len(stages)-1] != StageAssembled {
		t.Errorf("stages = %v, want to end in assembled", stages)
	}
}

func TestDownloadManifestSkipsDiscovery(t *testing.T) {
	srv := newPostServer(t)
	disc := &fakeDiscoverer{}
	d, err := New(testOptions(t, disc, &copyMuxer{})...)
	if err != nil {
		t.Fatal(err)
	}

	out, err := d.DownloadManifest(context.Background(), srv.manifestURL())
	if err != nil {
		t.Fatalf("DownloadManifest() error: %v", err)
	}
	if filepath.Base(out) != "hi_1280x720.mp4" {
		t.Errorf("output = %q, want hi_1280x720.mp4", out)
	}
	if disc.calls.Load() != 0 {
		t.Errorf("discoverer called %d times", disc.calls.Load())
	}
}

func TestDownloadErrors(t *testing.T) {
	srv := newPostServer(t)

	tests := []struct {
		name  string
		input string
		disc  *fakeDiscoverer
		mux   *copyMuxer
		fail  string
		want  error
	}{
		{"not a url", "not a url", &fakeDiscoverer{}, &copyMuxer{}, "", ErrInvalidInput},
		{"empty", "", &fakeDiscoverer{}, &copyMuxer{}, "", ErrInvalidInput},
		{"unknown site", "https://example.com/watch?v=1", &fakeDiscoverer{}, &copyMuxer{}, "", ErrUnsupportedPlatform},
		{"discovery timeout", postURL, &fakeDiscoverer{err: models.NewError(models.KindFetch, "discover", discovery.ErrTimeout)}, &copyMuxer{}, "", ErrFetch},
		{"discovery plain error", postURL, &fakeDiscoverer{err: errors.New("chrome crashed")}, &copyMuxer{}, "", ErrFetch},
		{"segment forbidden", postURL, &fakeDiscoverer{url: srv.manifestURL()}, &copyMuxer{}, "v2.m4s", ErrFetch},
		{"mux failure", postURL, &fakeDiscoverer{url: srv.manifestURL()}, &copyMuxer{fail: true}, "", ErrMux},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv.failPath.Store(tt.fail)
			defer srv.failPath.Store("")

			d, err := New(testOptions(t, tt.disc, tt.mux)...)
			if err != nil {
				t.Fatal(err)
			}
			out, err := d.Download(context.Background(), tt.input)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Download() error = %v, want %v", err, tt.want)
			}
			if out != "" {
				t.Errorf("Download() path = %q on failure", out)
			}
		})
	}
}

func TestDownloadTimeoutKeepsCause(t *testing.T) {
	disc := &fakeDiscoverer{err: models.NewError(models.KindFetch, "discover", discovery.ErrTimeout)}
	d, err := New(testOptions(t, disc, &copyMuxer{})...)
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Download(context.Background(), postURL)
	if !errors.Is(err, discovery.ErrTimeout) {
		t.Errorf("Download() error = %v, want wrapped ErrTimeout", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(WithPlatform("vimeo"), WithDiscoverer(&fakeDiscoverer{})); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("New(platform vimeo) error = %v, want ErrInvalidInput", err)
	}
}

func TestPlatformRestriction(t *testing.T) {
	srv := newPostServer(t)
	d, err := New(testOptions(t, &fakeDiscoverer{}, &copyMuxer{}, WithPlatform("hls"))...)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Download(context.Background(), postURL); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Errorf("Download(post) with hls platform error = %v, want ErrUnsupportedPlatform", err)
	}

	// a direct .m3u8 URL goes through the generic resolver without discovery
	out, err := d.Download(context.Background(), srv.manifestURL())
	if err != nil {
		t.Fatalf("Download(m3u8) error: %v", err)
	}
	if !strings.HasSuffix(out, ".mp4") {
		t.Errorf("output = %q", out)
	}
}
