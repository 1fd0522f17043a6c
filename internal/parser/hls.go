package parser

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/grafov/m3u8"

	"github.com/mohaanymo/vidgrab/internal/models"
)

// HLSResolver parses standard HLS playlists from any origin. Relative URIs
// are resolved against the playlist URL.
type HLSResolver struct {
	fetcher TextFetcher
}

// NewHLSResolver creates a resolver for standard HLS playlists.
func NewHLSResolver(f TextFetcher) *HLSResolver {
	return &HLSResolver{fetcher: f}
}

// Resolve fetches a master playlist and returns its variants ordered by
// bandwidth, highest first. A media playlist yields a single tier without
// separate audio.
func (r *HLSResolver) Resolve(ctx context.Context, manifestURL string) (*models.VariantPlaylist, error) {
	text, err := r.fetcher.Fetch(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	tiers, err := ParseHLSMaster(manifestURL, text)
	if err != nil {
		return nil, err
	}
	return &models.VariantPlaylist{URL: manifestURL, Tiers: tiers}, nil
}

// Expand fetches a media playlist and lists its init section and segments.
func (r *HLSResolver) Expand(ctx context.Context, playlistURL string) (*models.MediaPlaylist, error) {
	text, err := r.fetcher.Fetch(ctx, playlistURL)
	if err != nil {
		return nil, err
	}
	segments, err := ParseHLSMedia(playlistURL, text)
	if err != nil {
		return nil, err
	}
	return models.NewMediaPlaylist(playlistURL, segments), nil
}

// ParseHLSMaster decodes master playlist text into tiers.
func ParseHLSMaster(manifestURL, text string) ([]*models.MasterPlaylist, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, models.NewError(models.KindInvalidInput, "parse hls master", err)
	}

	pl, listType, err := m3u8.DecodeFrom(strings.NewReader(text), false)
	if err != nil {
		return nil, models.NewError(models.KindNoMasterPlaylist, "parse hls master", err)
	}

	if listType == m3u8.MEDIA {
		tier := &models.MasterPlaylist{VideoURL: manifestURL}
		if res, ok := models.ResolutionFromPath(manifestURL); ok {
			tier.Resolution = res.String()
		}
		return []*models.MasterPlaylist{tier}, nil
	}

	master, ok := pl.(*m3u8.MasterPlaylist)
	if !ok {
		return nil, models.Errorf(models.KindNoMasterPlaylist, "parse hls master", "unexpected playlist type")
	}

	// The decoder attaches EXT-X-MEDIA entries to whichever variant follows
	// them, so gather every audio rendition by group first.
	audioGroups := make(map[string]string)
	for _, v := range master.Variants {
		if v == nil {
			continue
		}
		for _, alt := range v.Alternatives {
			if alt == nil || !strings.EqualFold(alt.Type, "AUDIO") || alt.URI == "" {
				continue
			}
			if _, seen := audioGroups[alt.GroupId]; !seen || alt.Default {
				audioGroups[alt.GroupId] = resolveURL(base, alt.URI)
			}
		}
	}

	variants := make([]*m3u8.Variant, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v == nil || v.Iframe || v.URI == "" {
			continue
		}
		variants = append(variants, v)
	}
	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Bandwidth > variants[j].Bandwidth
	})

	tiers := make([]*models.MasterPlaylist, 0, len(variants))
	for _, v := range variants {
		tier := &models.MasterPlaylist{
			VideoURL: resolveURL(base, v.URI),
			AudioURL: audioGroups[v.Audio],
		}
		if res, ok := models.ParseResolution(v.Resolution); ok {
			tier.Resolution = res.String()
		} else if res, ok := models.ResolutionFromPath(tier.VideoURL); ok {
			tier.Resolution = res.String()
		}
		tiers = append(tiers, tier)
	}
	if len(tiers) == 0 {
		return nil, models.Errorf(models.KindNoMasterPlaylist, "parse hls master", "no variants in %s", manifestURL)
	}
	return tiers, nil
}

// ParseHLSMedia decodes media playlist text into absolute segment URLs, init
// section first.
func ParseHLSMedia(playlistURL, text string) ([]string, error) {
	base, err := url.Parse(playlistURL)
	if err != nil {
		return nil, models.NewError(models.KindInvalidInput, "parse hls media", err)
	}

	pl, listType, err := m3u8.DecodeFrom(strings.NewReader(text), false)
	if err != nil {
		return nil, models.NewError(models.KindFetch, "parse hls media", err)
	}
	if listType != m3u8.MEDIA {
		return nil, models.Errorf(models.KindNoMasterPlaylist, "parse hls media", "%s is not a media playlist", playlistURL)
	}
	media, ok := pl.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, models.Errorf(models.KindNoMasterPlaylist, "parse hls media", "unexpected playlist type")
	}

	urls := []string{}
	xmap := media.Map
	if xmap == nil && len(media.Segments) > 0 && media.Segments[0] != nil {
		xmap = media.Segments[0].Map
	}
	if xmap != nil && xmap.URI != "" {
		urls = append(urls, resolveURL(base, xmap.URI))
	}
	for _, seg := range media.Segments {
		// the segment buffer is padded with nils past the last entry
		if seg == nil {
			break
		}
		urls = append(urls, resolveURL(base, seg.URI))
	}
	return urls, nil
}

// ResolveHLS resolves a standard HLS master playlist from any origin.
func ResolveHLS(ctx context.Context, f TextFetcher, manifestURL string) (*models.VariantPlaylist, error) {
	return NewHLSResolver(f).Resolve(ctx, manifestURL)
}
