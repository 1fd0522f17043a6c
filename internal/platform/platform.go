// Package platform describes the sites vidgrab knows how to extract from.
package platform

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/mohaanymo/vidgrab/internal/models"
)

// Profile holds everything site-specific about a platform: how to recognise
// its post pages, which intercepted request is the variant manifest, and how
// its playlists reference media.
type Profile struct {
	Name string

	// PagePattern matches post page URLs.
	PagePattern *regexp.Regexp

	// ManifestPattern identifies the variant manifest request among the
	// page's network traffic.
	ManifestPattern *regexp.Regexp

	// MediaOrigin is prefixed to the paths found in playlists.
	MediaOrigin string

	PlaylistMarker string
	SegmentMarker  string
	SubtitleMarker string

	// Generic profiles take a manifest URL directly and are parsed as
	// standard HLS; no browser discovery is needed.
	Generic bool
}

// NeedsDiscovery reports whether the page must be loaded in a browser to
// find the manifest.
func (p *Profile) NeedsDiscovery() bool {
	return !p.Generic
}

// MatchesManifest reports whether an intercepted request URL is the
// variant manifest.
func (p *Profile) MatchesManifest(rawURL string) bool {
	return p.ManifestPattern != nil && p.ManifestPattern.MatchString(rawURL)
}

// Twitter covers twitter.com and x.com status pages.
var Twitter = &Profile{
	Name:            "twitter",
	PagePattern:     regexp.MustCompile(`^https://(?:www\.|mobile\.)?(?:twitter|x)\.com/.+/status/\d+(?:[/?].*)?$`),
	ManifestPattern: regexp.MustCompile(`^https://video\.twimg\.com/.*_video/[^?]*\?(?:.*&)?tag=`),
	MediaOrigin:     "https://video.twimg.com",
	PlaylistMarker:  "_video/",
	SegmentMarker:   "_video/",
	SubtitleMarker:  "TYPE=SUBTITLES",
}

// HLS accepts a direct .m3u8 URL from any origin.
var HLS = &Profile{
	Name:           "hls",
	PagePattern:    regexp.MustCompile(`(?i)^https?://[^/]+/.*\.m3u8(?:\?.*)?$`),
	SubtitleMarker: "TYPE=SUBTITLES",
	Generic:        true,
}

var profiles = []*Profile{Twitter, HLS}

// All returns the known profiles in match order.
func All() []*Profile {
	out := make([]*Profile, len(profiles))
	copy(out, profiles)
	return out
}

// Lookup returns the profile with the given name.
func Lookup(name string) (*Profile, bool) {
	for _, p := range profiles {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// IsURL reports whether raw looks like an absolute http(s) URL.
func IsURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// Match finds the profile for a page URL. Input that is not a URL is
// ErrInvalidInput; a URL no profile accepts is ErrUnsupportedPlatform.
func Match(raw string) (*Profile, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !IsURL(raw) {
		return nil, models.Errorf(models.KindInvalidInput, "match platform", "not a URL: %q", raw)
	}
	for _, p := range profiles {
		if p.PagePattern.MatchString(raw) {
			return p, nil
		}
	}
	return nil, models.Errorf(models.KindUnsupportedPlatform, "match platform", "no platform handles %s", raw)
}

// MatchNamed is Match restricted to one profile; "auto" or "" means any.
func MatchNamed(name, raw string) (*Profile, error) {
	if name == "" || name == "auto" {
		return Match(raw)
	}
	p, ok := Lookup(name)
	if !ok {
		return nil, models.Errorf(models.KindInvalidInput, "match platform", "unknown platform %q", name)
	}
	raw = strings.TrimSpace(raw)
	if !IsURL(raw) {
		return nil, models.Errorf(models.KindInvalidInput, "match platform", "not a URL: %q", raw)
	}
	if !p.PagePattern.MatchString(raw) {
		return nil, models.Errorf(models.KindUnsupportedPlatform, "match platform", "%s does not handle %s", p.Name, raw)
	}
	return p, nil
}

// StripQuery removes the query string and fragment from rawURL.
func StripQuery(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
