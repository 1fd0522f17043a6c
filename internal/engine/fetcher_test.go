package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohaanymo/vidgrab/internal/models"
)

// segmentServer serves /seg/<i> with body "seg-<i>;". Lower indices are
// delayed longer so requests finish in reverse order.
func segmentServer(t *testing.T, n int, fail int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/seg/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if i == fail {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		select {
		case <-time.After(time.Duration(n-i) * 5 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		fmt.Fprintf(w, "seg-%d;", i)
	}))
}

func segmentURLs(base string, n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/seg/%d", base, i)
	}
	return urls
}

func TestFetchAllPreservesOrder(t *testing.T) {
	const n = 12
	srv := segmentServer(t, n, -1)
	defer srv.Close()

	var mu sync.Mutex
	var finished []int
	f := NewSegmentFetcher(n, srv.Client(), func(p ProgressUpdate) {
		mu.Lock()
		finished = append(finished, p.SegmentIndex)
		mu.Unlock()
	}, nil)

	chunks, err := f.FetchAll(context.Background(), TrackVideo, segmentURLs(srv.URL, n))
	if err != nil {
		t.Fatalf("FetchAll() error: %v", err)
	}

	var want bytes.Buffer
	for i := 0; i < n; i++ {
		fmt.Fprintf(&want, "seg-%d;", i)
	}
	if got := bytes.Join(chunks, nil); !bytes.Equal(got, want.Bytes()) {
		t.Errorf("concatenated chunks = %q, want %q", got, want.Bytes())
	}

	if len(finished) != n {
		t.Fatalf("got %d progress updates, want %d", len(finished), n)
	}
	if finished[0] == 0 {
		t.Errorf("segment 0 finished first; completion order was not shuffled: %v", finished)
	}

	completed, total, _ := f.Stats()
	if completed != n || total != int64(want.Len()) {
		t.Errorf("Stats() = %d segments, %d bytes, want %d, %d", completed, total, n, want.Len())
	}
}

func TestFetchAllBoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := NewSegmentFetcher(3, srv.Client(), nil, nil)
	if _, err := f.FetchAll(context.Background(), TrackAudio, segmentURLs(srv.URL, 15)); err != nil {
		t.Fatalf("FetchAll() error: %v", err)
	}
	if p := peak.Load(); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}
}

func TestFetchAllFailsWhole(t *testing.T) {
	const n = 8
	srv := segmentServer(t, n, 5)
	defer srv.Close()

	f := NewSegmentFetcher(4, srv.Client(), nil, nil)
	chunks, err := f.FetchAll(context.Background(), TrackVideo, segmentURLs(srv.URL, n))
	if err == nil {
		t.Fatal("FetchAll() error = nil, want failure")
	}
	if !errors.Is(err, models.ErrFetch) {
		t.Errorf("FetchAll() error = %v, want ErrFetch", err)
	}
	if !strings.Contains(err.Error(), "segment 5") {
		t.Errorf("error %q does not name the failed segment", err)
	}
	if chunks != nil {
		t.Errorf("FetchAll() returned %d partial chunks, want nil", len(chunks))
	}
}

func TestFetchAllCanceled(t *testing.T) {
	srv := segmentServer(t, 50, -1)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewSegmentFetcher(2, srv.Client(), nil, nil)
	_, err := f.FetchAll(ctx, TrackVideo, segmentURLs(srv.URL, 50))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("FetchAll() error = %v, want context.Canceled", err)
	}
}

func TestFetchAllEmpty(t *testing.T) {
	f := NewSegmentFetcher(2, http.DefaultClient, nil, nil)
	chunks, err := f.FetchAll(context.Background(), TrackVideo, nil)
	if err != nil || len(chunks) != 0 {
		t.Errorf("FetchAll(nil) = %v, %v, want empty, nil", chunks, err)
	}
}
