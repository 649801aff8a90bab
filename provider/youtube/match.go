package youtube

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/alanbriolat/media-fetch"
)

const ProviderName = "youtube"

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

func Match(s string) (*mediafetch.MediaRef, error) {
	if parsedURL, err := url.Parse(strings.TrimSpace(s)); err != nil {
		return nil, err
	} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unknown URL scheme %q", parsedURL.Scheme)
	} else if videoID, err := extractVideoID(parsedURL); err != nil {
		return nil, err
	} else {
		return &mediafetch.MediaRef{SourceURL: CanonicalURL(videoID), CanonicalID: videoID}, nil
	}
}

func CanonicalURL(videoID string) string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID)
}

func New() mediafetch.Provider {
	return mediafetch.Provider{Name: ProviderName, Match: Match}
}

// Extract video ID from YouTube URL.
//
// Allowed URL formats:
//
//	http(s?)://(www|m|music).youtube.com/(watch|details)?v={VIDEO_ID}
//	http(s?)://(www|m).youtube.com/(v|shorts|embed|live)/{VIDEO_ID}
//	http(s?)://youtu.be/{VIDEO_ID}
func extractVideoID(u *url.URL) (string, error) {
	var id string
	switch strings.ToLower(u.Hostname()) {
	case "youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com":
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		switch {
		case len(parts) >= 2 && (parts[0] == "v" || parts[0] == "shorts" || parts[0] == "embed" || parts[0] == "live"):
			id = parts[1]
		case u.Path == "/watch" || u.Path == "/details":
			if !u.Query().Has("v") {
				return "", fmt.Errorf("missing ?v= query parameter")
			}
			id = u.Query().Get("v")
		}
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	default:
		return "", fmt.Errorf("unrecognised hostname")
	}
	if id == "" {
		return "", fmt.Errorf("could not extract video ID")
	}
	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("invalid video ID %q", id)
	}
	return id, nil
}

func init() {
	mediafetch.DefaultProviderRegistry.MustAdd(New())
}
