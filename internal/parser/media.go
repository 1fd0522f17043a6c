package parser

import (
	"context"
	"strings"

	"github.com/mohaanymo/vidgrab/internal/models"
	"github.com/mohaanymo/vidgrab/internal/platform"
)

// Expand fetches a media playlist and lists its segments. An empty
// playlist is not an error here; callers decide whether it is fatal.
func (r *MarkerResolver) Expand(ctx context.Context, playlistURL string) (*models.MediaPlaylist, error) {
	text, err := r.fetcher.Fetch(ctx, playlistURL)
	if err != nil {
		return nil, err
	}
	return models.NewMediaPlaylist(playlistURL, ParseMedia(r.profile, text)), nil
}

// ParseMedia lists the segment URLs in media playlist text. Lines carrying
// the profile's segment marker are kept, which picks up the init section
// (#EXT-X-MAP) as well as plain segment lines, in order.
func ParseMedia(p *platform.Profile, text string) []string {
	urls := []string{}
	for _, l := range lines(text) {
		if !strings.Contains(l, p.SegmentMarker) || isSubtitle(l, p.SubtitleMarker) {
			continue
		}
		if u := lastQuoted(l); u != "" {
			urls = append(urls, joinOrigin(p.MediaOrigin, u))
		}
	}
	return urls
}
