package resolver

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"aonline-proxy/work/client"
	"aonline-proxy/work/logger"
	"aonline-proxy/work/parser"
	"aonline-proxy/work/streamorder"
	"aonline-proxy/work/types"
	"aonline-proxy/work/utils"

	"github.com/avast/retry-go/v4"
)

// embedResponse is the ajax answer for one embed option.
type embedResponse struct {
	EmbedURL string `json:"embed_url"`
}

// ResolveTarget resolves a target page into an ordered list of streams.
//
// Every embed option of the page is converted into an embed URL through the
// page's ajax endpoint. Direct media in the embed URL itself short-circuits
// the option; otherwise the embed page is fetched, its text searched for
// direct URLs and its provider sources collected. ModeFull resolves those
// providers; ModeFast considers only the first FastOptionLimit options and
// exposes providers as lazy gateway links instead.
func (r *Resolver) ResolveTarget(ctx context.Context, targetURL string, mode Mode) []types.ResolvedStream {
	start := time.Now()

	page, err := retry.DoWithData(
		func() (string, error) {
			return r.fetcher.FetchText(ctx, targetURL, r.cfg.SiteBaseURL)
		},
		retry.Attempts(2),
		retry.Delay(250*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		logger.Warn("{resolver/embed - ResolveTarget} Failed to fetch target %s: %v", utils.LogURL(r.cfg, targetURL), err)
		return nil
	}

	ajax, err := parser.ParseAjaxConfig(page)
	if err != nil {
		logger.Debug("{resolver/embed - ResolveTarget} No ajax config on %s: %v", utils.LogURL(r.cfg, targetURL), err)
		return nil
	}

	doc, err := parser.ParseDocument(page)
	if err != nil {
		logger.Debug("{resolver/embed - ResolveTarget} %v", err)
		return nil
	}

	options := parser.ExtractEmbedOptions(doc)
	if limit := r.optionLimit(mode); limit > 0 && len(options) > limit {
		options = options[:limit]
	}
	if len(options) == 0 {
		logger.Debug("{resolver/embed - ResolveTarget} No embed options on %s", utils.LogURL(r.cfg, targetURL))
		return nil
	}

	tasks := make([]func() []types.ResolvedStream, 0, len(options))
	for _, opt := range options {
		tasks = append(tasks, func() []types.ResolvedStream {
			return r.resolveOption(ctx, targetURL, ajax, opt, mode)
		})
	}

	streams := streamorder.Arrange(settleAll("embed option", r.cfg.WorkerThreads, tasks), r.cfg.PreferredServers)

	logger.Debug("{resolver/embed - ResolveTarget} %s mode resolved %d streams for %s in %s",
		mode, len(streams), utils.LogURL(r.cfg, targetURL), time.Since(start).Round(time.Millisecond))

	return streams
}

// resolveOption converts a single embed option into streams.
func (r *Resolver) resolveOption(ctx context.Context, targetURL string, ajax types.AjaxConfig, opt types.EmbedOption, mode Mode) []types.ResolvedStream {
	var resp embedResponse
	if err := r.fetcher.FetchJSON(ctx, r.pages.EmbedEndpoint(ajax, opt), targetURL, &resp); err != nil {
		logger.Debug("{resolver/embed - resolveOption} Ajax failed for option %s: %v", opt.Source, err)
		return nil
	}

	embedURL := r.pages.Absolute(parser.NormalizeURL(resp.EmbedURL))
	if embedURL == "" {
		return nil
	}

	optionTitle := fmt.Sprintf("%s (%s)", opt.Title, opt.Server)

	if direct := parser.ExtractDirectURLs(embedURL); len(direct) > 0 {
		return r.directStreams(direct, optionTitle, opt.Server, targetURL)
	}

	embedPage, err := r.fetcher.FetchText(ctx, embedURL, targetURL)
	if err != nil {
		logger.Debug("{resolver/embed - resolveOption} Embed fetch failed for %s: %v", utils.LogURL(r.cfg, embedURL), err)
		return nil
	}

	streams := r.directStreams(parser.ExtractDirectURLs(embedPage), optionTitle, opt.Server, embedURL)

	doc, err := parser.ParseDocument(embedPage)
	if err != nil {
		return streams
	}
	providers := r.sources.Apply(parser.ExtractProviderSources(doc))

	if !mode.resolvesProviders() {
		return append(streams, r.lazyStreams(providers, embedURL)...)
	}

	tasks := make([]func() []types.ResolvedStream, 0, len(providers))
	for _, src := range providers {
		tasks = append(tasks, func() []types.ResolvedStream {
			var out []types.ResolvedStream
			for _, c := range r.ResolveProvider(ctx, src, embedURL) {
				out = append(out, types.ResolvedStream{
					Title:    c.Title,
					URL:      c.URL,
					Headers:  client.PlaybackHeaders(r.cfg.UserAgent, c.Referer),
					Language: c.Language,
					Server:   c.Server,
				})
			}
			return out
		})
	}

	return append(streams, settleAll("provider", r.cfg.WorkerThreads, tasks)...)
}

func (r *Resolver) directStreams(urls []string, title, server, referer string) []types.ResolvedStream {
	out := make([]types.ResolvedStream, 0, len(urls))
	for _, u := range urls {
		out = append(out, types.ResolvedStream{
			Title:   title,
			URL:     u,
			Headers: client.PlaybackHeaders(r.cfg.UserAgent, referer),
			Server:  server,
		})
	}
	return out
}

// lazyStreams exposes unresolved providers as gateway links that resolve
// on first playback.
func (r *Resolver) lazyStreams(providers []types.ProviderSource, referer string) []types.ResolvedStream {
	if r.gatewayBase == "" {
		return nil
	}
	out := make([]types.ResolvedStream, 0, len(providers))
	for _, src := range providers {
		out = append(out, types.ResolvedStream{
			Title:    src.Server + " • " + string(src.Language),
			URL:      ProviderLink(r.gatewayBase, src.ProviderURL, referer),
			Language: src.Language,
			Server:   src.Server,
		})
	}
	return out
}

// ProviderLink builds the gateway URL that resolves providerURL on demand.
func ProviderLink(base, providerURL, referer string) string {
	q := url.Values{}
	q.Set("url", providerURL)
	if referer != "" {
		q.Set("referer", referer)
	}
	return base + "/provider?" + q.Encode()
}
