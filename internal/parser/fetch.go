package parser

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/charmbracelet/log"

	"github.com/mohaanymo/vidgrab/internal/models"
)

// maxManifestSize bounds how much of a playlist body is read.
const maxManifestSize = 8 << 20

// TextFetcher retrieves playlist text.
type TextFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPFetcher fetches playlists over HTTP.
type HTTPFetcher struct {
	client *http.Client
	logger *log.Logger
}

// NewFetcher creates a playlist fetcher using client.
func NewFetcher(client *http.Client, logger *log.Logger) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = log.Default()
	}
	return &HTTPFetcher{client: client, logger: logger}
}

// Fetch returns the decoded body of url. Transport errors, non-2xx statuses
// and empty bodies are all ErrFetch.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", models.NewError(models.KindFetch, "fetch playlist", err)
	}
	req.Header.Set("Accept", "application/vnd.apple.mpegurl, application/x-mpegurl, */*")
	req.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", models.NewError(models.KindFetch, "fetch playlist", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", models.Errorf(models.KindFetch, "fetch playlist", "%s: HTTP %d", url, resp.StatusCode)
	}

	body, err := decodeBody(resp)
	if err != nil {
		return "", models.NewError(models.KindFetch, "decode playlist", err)
	}

	data, err := io.ReadAll(io.LimitReader(body, maxManifestSize))
	if err != nil {
		return "", models.NewError(models.KindFetch, "read playlist", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", models.Errorf(models.KindFetch, "fetch playlist", "%s: empty body", url)
	}

	f.logger.Debug("fetched playlist", "url", url, "bytes", len(data), "encoding", resp.Header.Get("Content-Encoding"))
	return string(data), nil
}

// decodeBody undoes Content-Encoding. The transport leaves compression to
// us since segment bodies are fetched without it.
func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return resp.Body, nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	case "gzip":
		return gzip.NewReader(resp.Body)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}
