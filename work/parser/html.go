package parser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"aonline-proxy/work/classify"
	"aonline-proxy/work/types"

	"github.com/PuerkitoBio/goquery"
	"github.com/grafana/regexp"
)

var (
	dtAjaxRegex      = regexp.MustCompile(`var\s+dtAjax\s*=\s*(\{[\s\S]*?\});`)
	goToPlayerRegex  = regexp.MustCompile(`(?i)go_to_player\('([^']+)'\)`)
	leadingWWWRegexp = regexp.MustCompile(`(?i)^www\.`)
)

// ParseAjaxConfig extracts the dtAjax configuration object embedded in a
// target page. It returns an error when the variable is missing, is not
// valid JSON, or carries no url_api.
func ParseAjaxConfig(html string) (types.AjaxConfig, error) {
	m := dtAjaxRegex.FindStringSubmatch(html)
	if m == nil {
		return types.AjaxConfig{}, fmt.Errorf("dtAjax variable not found")
	}

	var cfg types.AjaxConfig
	if err := json.Unmarshal([]byte(m[1]), &cfg); err != nil {
		return types.AjaxConfig{}, fmt.Errorf("failed to parse dtAjax: %w", err)
	}
	if strings.TrimSpace(cfg.URLAPI) == "" {
		return types.AjaxConfig{}, fmt.Errorf("dtAjax has no url_api")
	}
	return cfg, nil
}

// EmbedEndpoint builds the ajax URL that returns the embed_url for opt.
func (p *PageParser) EmbedEndpoint(cfg types.AjaxConfig, opt types.EmbedOption) string {
	endpoint := cfg.URLAPI + opt.Post + "?type=" + url.QueryEscape(opt.Type) + "&source=" + url.QueryEscape(opt.Source)
	return p.Absolute(endpoint)
}

// PageParser extracts structure from HTML pages of the site. It only needs
// the site base URL to absolutize relative links.
type PageParser struct {
	base *url.URL
}

// NewPageParser returns a parser resolving relative links against baseURL.
func NewPageParser(baseURL string) *PageParser {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		base = nil
	}
	return &PageParser{base: base}
}

// Absolute resolves ref against the site base URL. Protocol-relative refs
// become https. An empty or unresolvable ref yields "".
func (p *PageParser) Absolute(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	if classify.IsAbsoluteHTTP(ref) {
		return ref
	}
	if p.base == nil {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return p.base.ResolveReference(u).String()
}

// ExtractEmbedOptions lists the dooplay player options of a target page.
// Options missing post, source or type are skipped.
func ExtractEmbedOptions(doc *goquery.Document) []types.EmbedOption {
	var options []types.EmbedOption

	doc.Find("#playeroptions li.dooplay_player_option").Each(func(_ int, li *goquery.Selection) {
		post := strings.TrimSpace(li.AttrOr("data-post", ""))
		source := strings.TrimSpace(li.AttrOr("data-nume", ""))
		typ := strings.TrimSpace(li.AttrOr("data-type", ""))
		if post == "" || source == "" || typ == "" {
			return
		}

		title := strings.TrimSpace(li.Find(".title").First().Text())
		if title == "" {
			title = "Source " + source
		}
		server := strings.TrimSpace(li.Find(".server").First().Text())
		if server == "" {
			server = "unknown"
		}

		options = append(options, types.EmbedOption{
			Post:   post,
			Source: source,
			Type:   typ,
			Title:  title,
			Server: server,
		})
	})

	return options
}

// ExtractIframeSrcs returns the absolute http(s) src of every iframe.
func ExtractIframeSrcs(doc *goquery.Document) []string {
	var urls []string
	doc.Find("iframe[src]").Each(func(_ int, frame *goquery.Selection) {
		src := completeURL(NormalizeURL(frame.AttrOr("src", "")))
		if classify.IsAbsoluteHTTP(src) {
			urls = append(urls, src)
		}
	})
	return urls
}

// LanguageFromClasses maps the .OD container classes to a language tag.
func LanguageFromClasses(classes string) types.Language {
	normalized := strings.ToUpper(classes)
	switch {
	case strings.Contains(normalized, "OD_SUB"):
		return types.LangSubbed
	case strings.Contains(normalized, "OD_LAT"):
		return types.LangLatino
	case strings.Contains(normalized, "OD_ES"):
		return types.LangCastilian
	}
	return types.LangUnknown
}

// ExtractProviderSources lists the go_to_player provider links of an embed
// page together with their server label and language.
func ExtractProviderSources(doc *goquery.Document) []types.ProviderSource {
	var sources []types.ProviderSource

	doc.Find(`.OD li[onclick*="go_to_player"]`).Each(func(_ int, li *goquery.Selection) {
		m := goToPlayerRegex.FindStringSubmatch(li.AttrOr("onclick", ""))
		if m == nil {
			return
		}

		providerURL := completeURL(NormalizeURL(m[1]))
		if !classify.IsAbsoluteHTTP(providerURL) {
			return
		}

		server := strings.TrimSpace(li.Find("span").First().Text())
		if server == "" {
			if u, err := url.Parse(providerURL); err == nil && u.Hostname() != "" {
				server = leadingWWWRegexp.ReplaceAllString(u.Hostname(), "")
			} else {
				server = "unknown"
			}
		}

		sources = append(sources, types.ProviderSource{
			ProviderURL: providerURL,
			Server:      strings.ToUpper(server),
			Language:    LanguageFromClasses(li.Closest(".OD").AttrOr("class", "")),
		})
	})

	return sources
}

// ParseDocument wraps goquery parsing of an HTML string.
func ParseDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return doc, nil
}
