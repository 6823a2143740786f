// Package videos maps opaque video ids handed out by the catalog to the
// target pages they stand for.
package videos

import (
	"net/url"
	"strings"

	"aonline-proxy/work/classify"
	"aonline-proxy/work/config"
	"aonline-proxy/work/logger"
	"aonline-proxy/work/types"

	"github.com/puzpuzpuz/xsync/v3"
)

// IDPrefix starts every video id.
const IDPrefix = "animeonline"

const (
	KindEpisode = "ep"
	KindMovie   = "movie"
)

// Index remembers id → target URL pairs registered by the catalog and
// falls back to decoding the URL embedded in the id itself.
type Index struct {
	siteBaseURL string
	urls        *xsync.MapOf[string, string]
}

// NewIndex creates an empty index for the configured site.
func NewIndex(cfg *config.Config) *Index {
	return &Index{
		siteBaseURL: strings.TrimRight(cfg.SiteBaseURL, "/"),
		urls:        xsync.NewMapOf[string, string](),
	}
}

// Register maps id to targetURL. Empty ids and non-absolute URLs are ignored.
func (i *Index) Register(id, targetURL string) bool {
	if id == "" || !classify.IsAbsoluteHTTP(targetURL) {
		return false
	}
	i.urls.Store(id, targetURL)
	return true
}

// RegisterAll registers every entry and returns the target URLs and ids in
// order. Entries without an id get EpisodeID or MovieID under metaID; they
// are skipped when metaID is empty too.
func (i *Index) RegisterAll(metaID string, entries []types.VideoEntry) (targets, ids []string) {
	targets = make([]string, 0, len(entries))
	ids = make([]string, 0, len(entries))
	for _, e := range entries {
		id := e.ID
		if id == "" && metaID != "" {
			if e.Type == KindMovie {
				id = MovieID(metaID, e.URL)
			} else {
				id = EpisodeID(metaID, e.URL)
			}
		}
		if i.Register(id, e.URL) {
			targets = append(targets, e.URL)
			ids = append(ids, id)
		}
	}
	logger.Debug("{videos/videos - RegisterAll} Registered %d of %d videos", len(targets), len(entries))
	return targets, ids
}

// Len returns the number of registered ids.
func (i *Index) Len() int {
	return i.urls.Size()
}

// Resolve returns the target page for a video id of the given content
// type ("series" or "movie").
//
// Lookup order:
//   - a registered mapping
//   - the escaped URL carried after the kind segment of the id
//   - for movies, /pelicula/<slug>/ on the site base URL
func (i *Index) Resolve(contentType, id string) (string, bool) {
	if target, ok := i.urls.Load(id); ok {
		return target, true
	}
	if target, ok := DecodeTarget(id); ok {
		return target, true
	}
	if contentType == KindMovie {
		if slug := Slug(id); slug != "" {
			return i.siteBaseURL + "/pelicula/" + url.PathEscape(slug) + "/", true
		}
	}
	return "", false
}

// EpisodeID builds the id for an episode page under metaID.
func EpisodeID(metaID, episodeURL string) string {
	return metaID + ":" + KindEpisode + ":" + url.QueryEscape(episodeURL)
}

// MovieID builds the id for a movie page under metaID.
func MovieID(metaID, pageURL string) string {
	return metaID + ":" + KindMovie + ":" + url.QueryEscape(pageURL)
}

// DecodeTarget extracts the URL embedded in ids of the form
// <prefix>:<slug>:<kind>:<escaped url>. The URL may itself contain colons
// once unescaped or when left unescaped.
func DecodeTarget(id string) (string, bool) {
	parts := strings.Split(id, ":")
	if len(parts) < 4 {
		return "", false
	}
	encoded := strings.Join(parts[3:], ":")
	if encoded == "" {
		return "", false
	}
	target, err := url.QueryUnescape(encoded)
	if err != nil || !classify.IsAbsoluteHTTP(target) {
		return "", false
	}
	return target, true
}

// Slug returns the slug segment of a prefixed id, or "".
func Slug(id string) string {
	rest, ok := strings.CutPrefix(id, IDPrefix+":")
	if !ok {
		return ""
	}
	slug, _, _ := strings.Cut(rest, ":")
	return slug
}
