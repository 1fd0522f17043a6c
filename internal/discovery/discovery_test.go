package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/mohaanymo/vidgrab/internal/platform"
)

func TestInterceptionFirstOfferWins(t *testing.T) {
	i := NewInterception()

	var wg sync.WaitGroup
	var mu sync.Mutex
	taken := 0
	for n := 0; n < 20; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i.Offer("https://video.twimg.com/x.m3u8") {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if taken != 1 {
		t.Fatalf("%d offers taken, want 1", taken)
	}
	if i.Offer("https://late") {
		t.Error("late offer was taken")
	}

	for n := 0; n < 2; n++ {
		got, err := i.Wait(context.Background(), time.Second)
		if err != nil || got != "https://video.twimg.com/x.m3u8" {
			t.Errorf("Wait() #%d = %q, %v", n, got, err)
		}
	}
}

func TestInterceptionWaitBeforeOffer(t *testing.T) {
	i := NewInterception()
	go func() {
		time.Sleep(20 * time.Millisecond)
		i.Offer("https://a")
	}()
	got, err := i.Wait(context.Background(), 5*time.Second)
	if err != nil || got != "https://a" {
		t.Errorf("Wait() = %q, %v, want https://a", got, err)
	}
}

func TestInterceptionTimeout(t *testing.T) {
	start := time.Now()
	_, err := NewInterception().Wait(context.Background(), 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Wait() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Wait() took %v", elapsed)
	}
}

func TestInterceptionCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewInterception().Wait(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestAcceptRequest(t *testing.T) {
	pattern := platform.Twitter.ManifestPattern
	manifest := "https://video.twimg.com/ext_tw_video/1/pu/pl/abc.m3u8?tag=12&container=fmp4"

	tests := []struct {
		name   string
		url    string
		typ    network.ResourceType
		want   string
		wantOK bool
	}{
		{"xhr manifest", manifest, network.ResourceTypeXHR, "https://video.twimg.com/ext_tw_video/1/pu/pl/abc.m3u8", true},
		{"fetch manifest", manifest, network.ResourceTypeFetch, "https://video.twimg.com/ext_tw_video/1/pu/pl/abc.m3u8", true},
		{"document", manifest, network.ResourceTypeDocument, "", false},
		{"media playlist", "https://video.twimg.com/ext_tw_video/1/pu/pl/avc1/1280x720/abc.m3u8", network.ResourceTypeXHR, "", false},
		{"other host", "https://abs.twimg.com/x.js?tag=1", network.ResourceTypeXHR, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &network.EventRequestWillBeSent{
				Request: &network.Request{URL: tt.url},
				Type:    tt.typ,
			}
			got, ok := acceptRequest(ev, pattern)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("acceptRequest() = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}

	if _, ok := acceptRequest(&network.EventRequestWillBeSent{}, pattern); ok {
		t.Error("accepted event without request")
	}
}

func TestBrowserOptions(t *testing.T) {
	b := NewBrowser(WithExecPath("/opt/chrome"), WithHeadful(true), WithDefaultTimeout(3*time.Second))
	if b.timeout != 3*time.Second || !b.headful || b.execPath != "/opt/chrome" {
		t.Errorf("options not applied: %+v", b)
	}
	if n := len(b.allocatorOptions()); n <= len(NewBrowser().allocatorOptions()) {
		t.Errorf("exec path not added to allocator options")
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() on unstarted browser: %v", err)
	}
}
