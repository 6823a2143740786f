package streamorder

import (
	"sort"
	"strings"

	"aonline-proxy/work/classify"
	"aonline-proxy/work/types"

	"github.com/grafana/regexp"
)

var (
	castilianRegex = regexp.MustCompile(`(?i)\b(castellano|español|espanol|cast)\b`)
	latinoRegex    = regexp.MustCompile(`(?i)\b(latino|lat)\b`)
	subbedRegex    = regexp.MustCompile(`(?i)\b(sub|vose|subtitulado)\b`)
)

// externalLinkPrefix marks streams that only open a third-party page.
const externalLinkPrefix = "external link"

/**
 * DetectLanguage returns the language tag of a stream, preferring explicit
 * provider metadata and falling back to keywords in the display title.
 *
 * @param explicit Language reported by the provider list, may be empty or UNK
 * @param title Display title of the stream
 * @return types.Language - normalized tag, UNK when nothing matches
 */
func DetectLanguage(explicit types.Language, title string) types.Language {
	switch types.Language(strings.ToUpper(string(explicit))) {
	case types.LangCastilian:
		return types.LangCastilian
	case types.LangLatino:
		return types.LangLatino
	case types.LangSubbed:
		return types.LangSubbed
	}

	switch {
	case castilianRegex.MatchString(title):
		return types.LangCastilian
	case latinoRegex.MatchString(title):
		return types.LangLatino
	case subbedRegex.MatchString(title):
		return types.LangSubbed
	}
	return types.LangUnknown
}

/**
 * Dedup keeps the first stream for every canonical dedup key, preserving
 * the order of the input.
 *
 * @param streams Streams in priority order
 * @return []types.ResolvedStream - unique streams
 */
func Dedup(streams []types.ResolvedStream) []types.ResolvedStream {
	seen := make(map[string]struct{}, len(streams))
	out := make([]types.ResolvedStream, 0, len(streams))
	for _, s := range streams {
		key := classify.DedupKey(s.URL)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

// serverRank returns the index of the first preferred keyword found in the
// stream's server, title or URL. Non-matching streams rank after every
// preference and external links rank last.
func serverRank(s types.ResolvedStream, preferred []string) int {
	if strings.HasPrefix(strings.ToLower(s.Title), externalLinkPrefix) {
		return len(preferred) + 1
	}
	haystack := strings.ToLower(s.Server + " " + s.Title + " " + s.URL)
	for i, keyword := range preferred {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" && strings.Contains(haystack, keyword) {
			return i
		}
	}
	return len(preferred)
}

/**
 * Sort orders streams in place by language rank, then preferred server,
 * then title, URL and dedup key. The result is a total order, so the same
 * set of streams always sorts identically regardless of input order.
 *
 * @param streams Streams to sort
 * @param preferred Server keywords in preference order
 */
func Sort(streams []types.ResolvedStream, preferred []string) {
	sort.SliceStable(streams, func(i, j int) bool {
		a, b := streams[i], streams[j]
		if ra, rb := a.Language.Rank(), b.Language.Rank(); ra != rb {
			return ra < rb
		}
		if ra, rb := serverRank(a, preferred), serverRank(b, preferred); ra != rb {
			return ra < rb
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		if a.URL != b.URL {
			return a.URL < b.URL
		}
		if ka, kb := classify.DedupKey(a.URL), classify.DedupKey(b.URL); ka != kb {
			return ka < kb
		}
		if a.Server != b.Server {
			return a.Server < b.Server
		}
		return a.Headers["Referer"] < b.Headers["Referer"]
	})
}

/**
 * Arrange labels, sorts and deduplicates a stream list. Sorting happens
 * before deduplication so the surviving entry of a duplicate group does
 * not depend on the order the streams were discovered in.
 *
 * @param streams Streams gathered from concurrent resolution
 * @param preferred Server keywords in preference order
 * @return []types.ResolvedStream - final ordered list
 */
func Arrange(streams []types.ResolvedStream, preferred []string) []types.ResolvedStream {
	labeled := make([]types.ResolvedStream, len(streams))
	for i, s := range streams {
		s.Language = DetectLanguage(s.Language, s.Title)
		labeled[i] = s
	}
	Sort(labeled, preferred)
	return Dedup(labeled)
}
