package ytdlp

import (
	"crypto/sha1"
	"fmt"
	"net/url"
	"strings"

	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/generic"
)

const ProviderName = "web"

var protocols = generic.NewSet("http", "https")

// Match accepts any http(s) URL, leaving it to yt-dlp to decide whether there is media behind it. The canonical ID
// is a hash of the URL since there is no platform-specific identifier to extract.
func Match(s string) (*mediafetch.MediaRef, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if !protocols.Contains(strings.ToLower(parsedURL.Scheme)) {
		return nil, fmt.Errorf("unknown URL scheme %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	parsedURL.Fragment = ""
	normalized := parsedURL.String()
	return &mediafetch.MediaRef{
		SourceURL:   normalized,
		CanonicalID: fmt.Sprintf("%x", sha1.Sum([]byte(normalized))),
	}, nil
}

func New() mediafetch.Provider {
	return mediafetch.Provider{Name: ProviderName, Match: Match, Priority: mediafetch.PriorityLowest}
}

func init() {
	mediafetch.DefaultProviderRegistry.MustAdd(New())
}
