package parser

import (
	"context"
	"strings"

	"github.com/mohaanymo/vidgrab/internal/models"
	"github.com/mohaanymo/vidgrab/internal/platform"
)

// MarkerResolver handles platforms whose manifests are recognised by a path
// marker rather than by standard HLS structure.
type MarkerResolver struct {
	fetcher TextFetcher
	profile *platform.Profile
}

// NewMarkerResolver creates a resolver for profile p.
func NewMarkerResolver(f TextFetcher, p *platform.Profile) *MarkerResolver {
	return &MarkerResolver{fetcher: f, profile: p}
}

// Resolve fetches the variant manifest at manifestURL and builds its tiers.
func (r *MarkerResolver) Resolve(ctx context.Context, manifestURL string) (*models.VariantPlaylist, error) {
	text, err := r.fetcher.Fetch(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	tiers, err := ParseVariant(r.profile, text)
	if err != nil {
		return nil, err
	}
	return &models.VariantPlaylist{URL: manifestURL, Tiers: tiers}, nil
}

// ParseVariant extracts the quality tiers from variant manifest text.
//
// Lines carrying the profile's playlist marker are kept and subtitle lines
// dropped. The first kept line is the audio track shared by every tier; each
// following line is one tier's video track, in manifest order. Alternate
// audio renditions after the first are skipped.
func ParseVariant(p *platform.Profile, text string) ([]*models.MasterPlaylist, error) {
	var kept []string
	for _, l := range lines(text) {
		if !strings.Contains(l, p.PlaylistMarker) || isSubtitle(l, p.SubtitleMarker) {
			continue
		}
		kept = append(kept, l)
	}
	if len(kept) < 2 {
		return nil, models.Errorf(models.KindNoMasterPlaylist, "parse variant playlist",
			"need an audio and at least one video playlist, found %d", len(kept))
	}

	audioURL := joinOrigin(p.MediaOrigin, lastQuoted(kept[0]))

	tiers := make([]*models.MasterPlaylist, 0, len(kept)-1)
	for _, l := range kept[1:] {
		if strings.Contains(l, "TYPE=AUDIO") {
			continue
		}
		videoURL := joinOrigin(p.MediaOrigin, lastQuoted(l))
		tier := &models.MasterPlaylist{
			VideoURL: videoURL,
			AudioURL: audioURL,
		}
		if res, ok := models.ResolutionFromPath(videoURL); ok {
			tier.Resolution = res.String()
		}
		tiers = append(tiers, tier)
	}
	if len(tiers) == 0 {
		return nil, models.Errorf(models.KindNoMasterPlaylist, "parse variant playlist", "no video playlists")
	}

	return tiers, nil
}
