// Package parser resolves HLS manifests into quality tiers and segment lists.
package parser

import (
	"context"
	"net/url"
	"strings"

	"github.com/mohaanymo/vidgrab/internal/models"
	"github.com/mohaanymo/vidgrab/internal/platform"
)

// Resolver turns a variant manifest into tiers and expands a tier's tracks
// into segment lists.
type Resolver interface {
	Resolve(ctx context.Context, manifestURL string) (*models.VariantPlaylist, error)
	Expand(ctx context.Context, playlistURL string) (*models.MediaPlaylist, error)
}

// Registry picks the resolver for a platform profile.
type Registry struct {
	fetcher TextFetcher
}

// NewRegistry creates a registry whose resolvers fetch through f.
func NewRegistry(f TextFetcher) *Registry {
	return &Registry{fetcher: f}
}

// For returns the resolver that understands p's manifests.
func (r *Registry) For(p *platform.Profile) Resolver {
	if p.Generic {
		return &HLSResolver{fetcher: r.fetcher}
	}
	return &MarkerResolver{fetcher: r.fetcher, profile: p}
}

// Common helper functions used by parsers

// lines splits text into trimmed, non-empty lines.
func lines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := raw[:0]
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// lastQuoted returns the last non-empty piece of line when split on double
// quotes. That is the URI value on tag lines and the whole line otherwise.
func lastQuoted(line string) string {
	parts := strings.Split(line, `"`)
	for i := len(parts) - 1; i >= 0; i-- {
		if p := strings.TrimSpace(parts[i]); p != "" {
			return p
		}
	}
	return ""
}

// isSubtitle reports whether a manifest line belongs to a subtitle rendition.
func isSubtitle(line, marker string) bool {
	if marker != "" && strings.Contains(line, marker) {
		return true
	}
	return strings.Contains(line, "TYPE=SUBTITLES") || strings.Contains(line, "TYPE=CLOSED-CAPTIONS")
}

// joinOrigin prefixes a playlist path with the media origin.
func joinOrigin(origin, p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	if origin == "" {
		return p
	}
	return strings.TrimRight(origin, "/") + "/" + strings.TrimLeft(p, "/")
}

// resolveURL resolves a relative URL against a base URL.
func resolveURL(base *url.URL, relative string) string {
	if strings.HasPrefix(relative, "http://") || strings.HasPrefix(relative, "https://") {
		return relative
	}
	rel, err := url.Parse(relative)
	if err != nil {
		return relative
	}
	return base.ResolveReference(rel).String()
}

// ResolveVariant fetches the variant manifest at manifestURL and lists its
// quality tiers using the resolver for p.
func ResolveVariant(ctx context.Context, f TextFetcher, p *platform.Profile, manifestURL string) (*models.VariantPlaylist, error) {
	return NewRegistry(f).For(p).Resolve(ctx, manifestURL)
}

// ExpandMedia fetches the media playlist at playlistURL and lists its
// segments using the resolver for p.
func ExpandMedia(ctx context.Context, f TextFetcher, p *platform.Profile, playlistURL string) (*models.MediaPlaylist, error) {
	return NewRegistry(f).For(p).Expand(ctx, playlistURL)
}
