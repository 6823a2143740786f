// Package parser contains the pure page-parsing functions used by the
// resolver: text pattern extraction, HTML structure extraction and HLS
// manifest inspection. Nothing here performs network access.
package parser

import (
	"strconv"
	"strings"

	"aonline-proxy/work/classify"

	"github.com/grafana/regexp"
)

var (
	// bare absolute URLs anywhere in the text
	bareURLRegex = regexp.MustCompile(`(?i)(https?://[^\s"'<>]+)`)

	// "file": "..." and 'src' = '...' style JS/JSON literals
	fileLiteralRegex = regexp.MustCompile(`(?i)["'](?:file|src)["']\s*[:=]\s*["']([^"']+)["']`)

	// player.src("...") and player.src({src: "..."})
	playerSrcRegex = regexp.MustCompile(`(?i)player\.src\(\s*\{?\s*(?:src\s*:\s*)?["']([^"']+)["']`)

	// protocol-relative media literals, e.g. '//cdn.host/v.mp4'
	relativeMediaRegex = regexp.MustCompile(`(?i)["'](//[^"'\s]+\.(?:mp4|m3u8)(?:\?[^"'\s]*)?)["']`)

	streamtapeRegexes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:https?:)?//streamtape\.com/get_video\?[^\s"'<>]+`),
		regexp.MustCompile(`(?i)/streamtape\.com/get_video\?[^\s"'<>]+`),
	}

	// streamtape hides the token link behind a concatenation such as
	// innerHTML = '//streamtape.com/get_video?id=..&token=' + ('xyzabc').substring(3)
	robotlinkRegex = regexp.MustCompile(`(?i)getElementById\(\s*['"][a-z]*link['"]\s*\)\.innerHTML\s*=\s*['"]([^'"]+)['"]\s*\+\s*\(?\s*['"]([^'"]+)['"]\s*\)?\.substring\(\s*(\d+)\s*\)`)

	trailingPunctRegex = regexp.MustCompile(`[),;]+$`)
)

// NormalizeURL cleans a URL found in script text: JSON-escaped slashes are
// unescaped, escaped ampersands restored and trailing punctuation trimmed.
func NormalizeURL(raw string) string {
	s := strings.ReplaceAll(raw, `\/`, "/")
	s = strings.ReplaceAll(s, `\u0026`, "&")
	s = strings.TrimSpace(s)
	return trailingPunctRegex.ReplaceAllString(s, "")
}

// completeURL turns protocol-relative and slash-prefixed host forms into
// absolute https URLs.
func completeURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(strings.ToLower(raw), "/streamtape.com/"):
		return "https:/" + raw
	}
	return raw
}

// urlSet collects unique URLs in discovery order.
type urlSet struct {
	seen map[string]struct{}
	list []string
}

func newURLSet() *urlSet {
	return &urlSet{seen: make(map[string]struct{})}
}

func (s *urlSet) add(u string) {
	if _, ok := s.seen[u]; ok {
		return
	}
	s.seen[u] = struct{}{}
	s.list = append(s.list, u)
}

// addIfDirect normalizes candidate and keeps it only when it classifies as
// direct media.
func (s *urlSet) addIfDirect(candidate string) {
	candidate = completeURL(NormalizeURL(candidate))
	if classify.IsDirectMedia(candidate) {
		s.add(candidate)
	}
}

// ExtractStreamtapeURLs finds token-protected get_video links in a
// streamtape watch page, including the split-token robotlink form.
func ExtractStreamtapeURLs(text string) []string {
	raw := strings.ReplaceAll(text, `\u0026`, "&")
	found := newURLSet()

	for _, re := range streamtapeRegexes {
		for _, m := range re.FindAllString(raw, -1) {
			found.addIfDirect(m)
		}
	}

	for _, m := range robotlinkRegex.FindAllStringSubmatch(raw, -1) {
		offset, err := strconv.Atoi(m[3])
		if err != nil || offset > len(m[2]) {
			continue
		}
		found.addIfDirect(m[1] + m[2][offset:])
	}

	return found.list
}

// ExtractDirectURLs returns every direct media URL that can be found in
// text using bare URL matching, file/src literals and host-specific
// patterns. The result is unique and in discovery order.
func ExtractDirectURLs(text string) []string {
	normalized := strings.ReplaceAll(text, `\u0026`, "&")
	normalized = strings.ReplaceAll(normalized, `\/`, "/")
	found := newURLSet()

	for _, m := range bareURLRegex.FindAllStringSubmatch(normalized, -1) {
		found.addIfDirect(m[1])
	}

	for _, re := range []*regexp.Regexp{fileLiteralRegex, playerSrcRegex, relativeMediaRegex} {
		for _, m := range re.FindAllStringSubmatch(normalized, -1) {
			found.addIfDirect(m[1])
		}
	}

	for _, u := range ExtractStreamtapeURLs(normalized) {
		found.add(u)
	}

	return found.list
}
