// Package classify holds the URL heuristics used to decide whether a link
// is directly playable, safe for constrained players, and how it should be
// deduplicated. Every function is pure and total.
package classify

import (
	"net/url"
	"strings"

	"github.com/grafana/regexp"
)

var mediaExtRegex = regexp.MustCompile(`\.(m3u8|mp4|mpd|webm)$`)

// embed hosts serve player pages that share a domain with their direct links
var embedHosts = []string{"mp4upload.com", "hexload.com", "streamtape.com"}

var embedPaths = []string{"/embed", "/e/"}

// downloadPatterns are direct-download paths on recognized hosts.
var downloadPatterns = []struct {
	host string
	path string
}{
	{"hexload.com", "/download"},
	{"mp4upload.com", "/d/"},
}

const minTokenIDLength = 8

// parseHTTP parses raw as an absolute http(s) URL.
func parseHTTP(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, false
	}
	return u, true
}

// IsAbsoluteHTTP reports whether raw is an absolute http or https URL.
func IsAbsoluteHTTP(raw string) bool {
	_, ok := parseHTTP(raw)
	return ok
}

func isStreamtapeHost(host string) bool {
	return strings.Contains(host, "streamtape.com")
}

// IsTokenProtected reports whether raw is a get_video style link whose
// playability depends on its query token.
func IsTokenProtected(raw string) bool {
	u, ok := parseHTTP(raw)
	if !ok {
		return false
	}
	return isStreamtapeHost(strings.ToLower(u.Hostname())) &&
		strings.Contains(strings.ToLower(u.Path), "/get_video")
}

// IsStreamtapeWatchPage reports whether raw is a streamtape watch or embed
// page that carries a get_video link in its body.
func IsStreamtapeWatchPage(raw string) bool {
	u, ok := parseHTTP(raw)
	if !ok {
		return false
	}
	path := strings.ToLower(u.Path)
	return isStreamtapeHost(strings.ToLower(u.Hostname())) &&
		(strings.Contains(path, "/e/") || strings.Contains(path, "/v/"))
}

// IsDirectMedia reports whether raw can be handed to a media player as is.
// Embed pages on known embed hosts are never direct, even when the rest
// of the URL looks like media.
func IsDirectMedia(raw string) bool {
	u, ok := parseHTTP(raw)
	if !ok {
		return false
	}

	host := strings.ToLower(u.Hostname())
	path := strings.ToLower(u.Path)

	direct := mediaExtRegex.MatchString(path)

	if IsTokenProtected(raw) {
		q := u.Query()
		id := strings.TrimSpace(q.Get("id"))
		if len(id) < minTokenIDLength ||
			strings.TrimSpace(q.Get("token")) == "" ||
			strings.TrimSpace(q.Get("expires")) == "" {
			return false
		}
		direct = true
	}

	if !direct {
		for _, p := range downloadPatterns {
			if strings.Contains(host, p.host) && strings.Contains(path, p.path) {
				direct = true
				break
			}
		}
	}

	if !direct {
		return false
	}

	for _, h := range embedHosts {
		if !strings.Contains(host, h) {
			continue
		}
		for _, p := range embedPaths {
			if strings.Contains(path, p) {
				return false
			}
		}
	}

	return true
}

// IsPlaybackSafe reports whether raw is free of markers that bind it to
// the resolving machine's IP. Malformed URLs are not safe.
func IsPlaybackSafe(raw string) bool {
	u, ok := parseHTTP(raw)
	if !ok {
		return false
	}
	if strings.Contains(strings.ToLower(u.Path), "/redirector/") {
		return false
	}
	if IsTokenProtected(raw) && strings.TrimSpace(u.Query().Get("ip")) != "" {
		return false
	}
	return true
}

// DedupKey returns the canonical identity of a stream URL. Token links keep
// only their identity-bearing parameters so re-issued tokens for the same
// asset collapse; other links keep their full query.
func DedupKey(raw string) string {
	u, ok := parseHTTP(raw)
	if !ok {
		return raw
	}
	host := strings.ToLower(u.Hostname())
	if IsTokenProtected(raw) {
		q := u.Query()
		return host + u.Path + "|id=" + q.Get("id") + "|ip=" + q.Get("ip")
	}
	key := host + u.Path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// ServerFromURL derives a display server name from the URL host.
func ServerFromURL(raw string) string {
	u, ok := parseHTTP(raw)
	if !ok {
		return "UNKNOWN"
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(host)
}

// IsHLS reports whether raw points at an HLS manifest by extension.
func IsHLS(raw string) bool {
	u, ok := parseHTTP(raw)
	if !ok {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}

// IsMediaContentType reports whether a Content-Type header value declares
// video, an HLS playlist or a DASH manifest.
func IsMediaContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "video/"):
		return true
	case strings.Contains(ct, "mpegurl"), strings.Contains(ct, "m3u8"):
		return true
	case ct == "application/dash+xml":
		return true
	}
	return false
}

// IsGenericContentType reports whether a Content-Type header value says
// nothing useful about the payload.
func IsGenericContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "", "text/plain", "application/octet-stream", "binary/octet-stream":
		return true
	}
	return false
}
