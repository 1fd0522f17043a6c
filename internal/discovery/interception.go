// Package discovery finds the variant manifest a post page requests by
// watching a headless browser's network traffic.
package discovery

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"
)

// ErrTimeout is returned when no matching request was seen in time.
var ErrTimeout = errors.New("no manifest request intercepted before timeout")

// DefaultTimeout bounds how long a page may take to request its manifest.
const DefaultTimeout = 10 * time.Second

// Discoverer yields the first request URL made by pageURL that matches
// pattern.
type Discoverer interface {
	Discover(ctx context.Context, pageURL string, pattern *regexp.Regexp, timeout time.Duration) (string, error)
}

// Interception is a one-shot slot for an intercepted URL. The first Offer
// wins; later offers are dropped.
type Interception struct {
	once sync.Once
	ch   chan string
}

// NewInterception creates an empty interception.
func NewInterception() *Interception {
	return &Interception{ch: make(chan string, 1)}
}

// Offer records url if nothing has been recorded yet. It never blocks and
// reports whether url was taken.
func (i *Interception) Offer(url string) bool {
	taken := false
	i.once.Do(func() {
		i.ch <- url
		taken = true
	})
	return taken
}

// Wait blocks until a URL is offered, ctx is done or timeout passes.
// A non-positive timeout waits on ctx alone.
func (i *Interception) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case url := <-i.ch:
		// put it back so a second Wait sees the same answer
		i.ch <- url
		return url, nil
	case <-expired:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
