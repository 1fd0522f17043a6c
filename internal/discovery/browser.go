package discovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/mohaanymo/vidgrab/internal/models"
	"github.com/mohaanymo/vidgrab/internal/platform"
)

// Browser discovers manifests with a shared headless Chrome. The browser is
// started on first use; each Discover call runs in its own tab.
type Browser struct {
	execPath  string
	headful   bool
	userAgent string
	timeout   time.Duration
	logger    *log.Logger

	startOnce     sync.Once
	startErr      error
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// BrowserOption configures a Browser.
type BrowserOption func(*Browser)

// WithExecPath sets the Chrome binary. Empty means chromedp's lookup.
func WithExecPath(path string) BrowserOption {
	return func(b *Browser) { b.execPath = path }
}

// WithHeadful shows the browser window.
func WithHeadful(headful bool) BrowserOption {
	return func(b *Browser) { b.headful = headful }
}

// WithUserAgent overrides the browser's user agent.
func WithUserAgent(ua string) BrowserOption {
	return func(b *Browser) { b.userAgent = ua }
}

// WithDefaultTimeout sets the timeout used when Discover is given none.
func WithDefaultTimeout(d time.Duration) BrowserOption {
	return func(b *Browser) { b.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) BrowserOption {
	return func(b *Browser) { b.logger = l }
}

// NewBrowser creates a Browser. No process is started until Discover.
func NewBrowser(opts ...BrowserOption) *Browser {
	b := &Browser{
		timeout: DefaultTimeout,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", !b.headful),
		chromedp.Flag("incognito", true),
		chromedp.Flag("mute-audio", true),
	)
	if b.execPath != "" {
		opts = append(opts, chromedp.ExecPath(b.execPath))
	}
	if b.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.userAgent))
	}
	return opts
}

func (b *Browser) start() error {
	b.startOnce.Do(func() {
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions()...)
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(b.logger.Debugf))
		if err := chromedp.Run(browserCtx); err != nil {
			cancelBrowser()
			cancelAlloc()
			b.startErr = fmt.Errorf("start browser: %w", err)
			return
		}
		b.browserCtx, b.cancelBrowser, b.cancelAlloc = browserCtx, cancelBrowser, cancelAlloc
		b.logger.Debug("browser started", "headless", !b.headful)
	})
	return b.startErr
}

// Discover opens pageURL in a new tab and returns the first XHR or fetch
// request matching pattern, without its query string. No match within
// timeout is ErrFetch wrapping ErrTimeout.
func (b *Browser) Discover(ctx context.Context, pageURL string, pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = b.timeout
	}
	if err := b.start(); err != nil {
		return "", models.NewError(models.KindFetch, "discover", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	hit := NewInterception()
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		req, ok := ev.(*network.EventRequestWillBeSent)
		if !ok {
			return
		}
		if url, ok := acceptRequest(req, pattern); ok && hit.Offer(url) {
			b.logger.Debug("intercepted manifest", "url", url)
		}
	})

	waitCtx, cancelWait := context.WithCancelCause(ctx)
	defer cancelWait(nil)
	go func() {
		if err := chromedp.Run(tabCtx, network.Enable(), chromedp.Navigate(pageURL)); err != nil && tabCtx.Err() == nil {
			cancelWait(fmt.Errorf("navigate %s: %w", pageURL, err))
		}
	}()

	b.logger.Debug("waiting for manifest request", "page", pageURL, "timeout", timeout)
	url, err := hit.Wait(waitCtx, timeout)
	switch {
	case err == nil:
		return url, nil
	case errors.Is(err, ErrTimeout):
		return "", models.NewError(models.KindFetch, "discover", fmt.Errorf("%s: %w", pageURL, err))
	case ctx.Err() != nil:
		return "", models.NewError(models.KindFetch, "discover", ctx.Err())
	default:
		return "", models.NewError(models.KindFetch, "discover", context.Cause(waitCtx))
	}
}

// acceptRequest reports whether req is a script-initiated request matching
// pattern and returns its URL with the query stripped.
func acceptRequest(req *network.EventRequestWillBeSent, pattern *regexp.Regexp) (string, bool) {
	if req == nil || req.Request == nil {
		return "", false
	}
	if req.Type != network.ResourceTypeXHR && req.Type != network.ResourceTypeFetch {
		return "", false
	}
	if pattern == nil || !pattern.MatchString(req.Request.URL) {
		return "", false
	}
	return platform.StripQuery(req.Request.URL), true
}

// Close shuts the browser down. It is safe to call when the browser never
// started.
func (b *Browser) Close() error {
	if b.cancelBrowser != nil {
		b.cancelBrowser()
	}
	if b.cancelAlloc != nil {
		b.cancelAlloc()
	}
	return nil
}
