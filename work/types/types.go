package types

import (
	"encoding/json"
	"time"
)

// Language is the normalized audio/subtitle tag of a stream.
type Language string

// Language tags in ranking order.
const (
	LangCastilian Language = "CAST" // Spanish dub
	LangLatino    Language = "LAT"  // Latin-American dub
	LangSubbed    Language = "SUB"  // Japanese audio, subtitled
	LangUnknown   Language = "UNK"
)

// Rank returns the sort position of the language tag; lower sorts first.
func (l Language) Rank() int {
	switch l {
	case LangCastilian:
		return 0
	case LangLatino:
		return 1
	case LangSubbed:
		return 2
	default:
		return 3
	}
}

// EmbedOption is one per-server embed choice listed on a target page.
type EmbedOption struct {
	Post   string // data-post attribute
	Source string // data-nume attribute
	Type   string // data-type attribute ("tv" or "movie")
	Title  string
	Server string
}

// AjaxConfig is the page-level ajax endpoint template used to turn an
// EmbedOption into an embed URL.
type AjaxConfig struct {
	URLAPI string `json:"url_api"`
}

// ProviderSource is a third-party provider link found on an embed page.
type ProviderSource struct {
	ProviderURL string
	Server      string
	Language    Language
}

// Candidate is a URL awaiting classification, with its provenance.
type Candidate struct {
	URL      string
	Referer  string
	Server   string
	Language Language
	Title    string
}

// ResolvedStream is the externally exposed playable unit.
type ResolvedStream struct {
	Title    string
	URL      string
	Headers  map[string]string // playback request headers (User-Agent, Referer, Origin)
	Language Language
	Server   string
}

// streamJSON is the wire shape expected by media-center clients.
type streamJSON struct {
	Title         string        `json:"title"`
	URL           string        `json:"url"`
	BehaviorHints behaviorHints `json:"behaviorHints"`
}

type behaviorHints struct {
	NotWebReady  bool          `json:"notWebReady"`
	ProxyHeaders *proxyHeaders `json:"proxyHeaders,omitempty"`
}

type proxyHeaders struct {
	Request map[string]string `json:"request"`
}

// MarshalJSON renders the stream with playback headers nested under
// behaviorHints.proxyHeaders.request.
func (s ResolvedStream) MarshalJSON() ([]byte, error) {
	out := streamJSON{Title: s.Title, URL: s.URL}
	if len(s.Headers) > 0 {
		out.BehaviorHints.ProxyHeaders = &proxyHeaders{Request: s.Headers}
	}
	return json.Marshal(out)
}

// CacheEntry is a resolved stream list for one target URL.
type CacheEntry struct {
	CreatedAt time.Time
	Streams   []ResolvedStream
	Partial   bool // written by the quick lane, may be superseded by a full result
}

// Fresh reports whether the entry is usable at now for the given TTL.
func (e CacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return len(e.Streams) > 0 && now.Sub(e.CreatedAt) < ttl
}

// ProbeResult memoizes one playability check.
type ProbeResult struct {
	CheckedAt time.Time
	OK        bool
}

// StreamsResponse is the body of the stream lookup endpoint.
type StreamsResponse struct {
	Streams []ResolvedStream `json:"streams"`
}

// PrewarmRequest is the body accepted by the prewarm endpoint. Either
// Targets or MetaID plus Videos may be set.
type PrewarmRequest struct {
	Targets []string     `json:"targets,omitempty"`
	MetaID  string       `json:"metaId,omitempty"`
	Videos  []VideoEntry `json:"videos,omitempty"`
}

// VideoEntry maps an opaque playable-unit id to its target page. An empty
// ID is derived from the request's meta id and Type ("movie" or episode).
type VideoEntry struct {
	ID   string `json:"id,omitempty"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}
