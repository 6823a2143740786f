package resolver

import (
	"context"
	"sort"

	"aonline-proxy/work/classify"
	"aonline-proxy/work/logger"
	"aonline-proxy/work/parser"
	"aonline-proxy/work/types"
	"aonline-proxy/work/utils"
)

// found is a direct URL with the page it was discovered on.
type found struct {
	url     string
	referer string
}

// ResolveProvider extracts direct media candidates behind a provider link.
//
// Process:
//   - A provider URL that is already direct is returned without network access.
//   - A streamtape watch page is fetched and searched for get_video links.
//   - Any other page is fetched, searched with the text extractors, and up to
//     IframeFanout nested iframes are fetched concurrently and searched too.
//
// The result is filtered by the classifier, unique per dedup key and sorted
// by that key. Failures yield an empty result.
func (r *Resolver) ResolveProvider(ctx context.Context, src types.ProviderSource, referer string) []types.Candidate {
	providerURL := src.ProviderURL
	if providerURL == "" {
		return nil
	}
	if referer == "" {
		referer = r.cfg.SiteBaseURL
	}

	if classify.IsDirectMedia(providerURL) {
		return r.candidates(src, []found{{url: providerURL, referer: referer}})
	}
	if !classify.IsAbsoluteHTTP(providerURL) {
		return nil
	}

	body, err := r.fetcher.FetchText(ctx, providerURL, referer)
	if err != nil {
		logger.Debug("{resolver/provider - ResolveProvider} Fetch failed for %s: %v", utils.LogURL(r.cfg, providerURL), err)
		return nil
	}

	var hits []found

	if classify.IsStreamtapeWatchPage(providerURL) {
		for _, u := range parser.ExtractStreamtapeURLs(body) {
			hits = append(hits, found{url: u, referer: providerURL})
		}
		return r.candidates(src, hits)
	}

	for _, u := range parser.ExtractDirectURLs(body) {
		hits = append(hits, found{url: u, referer: providerURL})
	}
	hits = append(hits, r.fromIframes(ctx, providerURL, body)...)

	return r.candidates(src, hits)
}

// fromIframes fetches the nested iframes of a provider page, each with the
// provider page as referer, and extracts direct URLs from their bodies.
func (r *Resolver) fromIframes(ctx context.Context, providerURL, body string) []found {
	doc, err := parser.ParseDocument(body)
	if err != nil {
		return nil
	}

	frames := parser.ExtractIframeSrcs(doc)
	if len(frames) > r.cfg.IframeFanout {
		frames = frames[:r.cfg.IframeFanout]
	}

	tasks := make([]func() []found, 0, len(frames))
	for _, frame := range frames {
		tasks = append(tasks, func() []found {
			frameBody, err := r.fetcher.FetchText(ctx, frame, providerURL)
			if err != nil {
				logger.Debug("{resolver/provider - fromIframes} Iframe fetch failed for %s: %v", utils.LogURL(r.cfg, frame), err)
				return nil
			}
			var hits []found
			for _, u := range parser.ExtractDirectURLs(frameBody) {
				hits = append(hits, found{url: u, referer: frame})
			}
			return hits
		})
	}

	return settleAll("iframe", r.cfg.IframeFanout, tasks)
}

// candidates filters, deduplicates and sorts hits into candidates labeled
// with the provider's server and language.
func (r *Resolver) candidates(src types.ProviderSource, hits []found) []types.Candidate {
	byKey := make(map[string]found, len(hits))
	for _, h := range hits {
		if !classify.IsDirectMedia(h.url) {
			continue
		}
		key := classify.DedupKey(h.url)
		if prev, ok := byKey[key]; ok && prev.url <= h.url {
			continue
		}
		byKey[key] = h
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	server := src.Server
	if server == "" {
		server = classify.ServerFromURL(src.ProviderURL)
	}
	lang := src.Language
	if lang == "" {
		lang = types.LangUnknown
	}

	out := make([]types.Candidate, 0, len(keys))
	for _, k := range keys {
		h := byKey[k]
		out = append(out, types.Candidate{
			URL:      h.url,
			Referer:  h.referer,
			Server:   server,
			Language: lang,
			Title:    server + " • " + string(lang),
		})
	}
	return out
}

// ResolveFirstPlayable resolves providerURL and returns the first candidate
// that is direct and safe for playback through the gateway. Concurrent
// calls for the same provider and referer share one resolution, bounded
// by ProviderTimeout and detached from any single caller's cancellation.
func (r *Resolver) ResolveFirstPlayable(ctx context.Context, providerURL, referer string) (types.Candidate, bool) {
	v, _, shared := r.playable.Do(providerURL+"|"+referer, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ProviderTimeout)
		defer cancel()

		for _, c := range r.ResolveProvider(runCtx, types.ProviderSource{ProviderURL: providerURL}, referer) {
			if classify.IsDirectMedia(c.URL) && classify.IsPlaybackSafe(c.URL) {
				return c, nil
			}
		}
		return nil, nil
	})
	if shared {
		logger.Debug("{resolver/provider - ResolveFirstPlayable} Coalesced resolution of %s", utils.LogURL(r.cfg, providerURL))
	}

	c, ok := v.(types.Candidate)
	return c, ok
}
