package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/vidrelay/vidrelay/internal/domain"
)

// Script blobs where platforms embed their hydration state. The shape of the
// JSON inside changes without notice, so the walk below works by key name
// rather than by path.
var hydrationScriptIDs = []string{
	"SIGI_STATE",
	"__UNIVERSAL_DATA_FOR_REHYDRATION__",
	"RENDER_DATA",
}

// Keys that hold a direct media URL, in preference order. downloadAddr is
// watermark-free where present.
var mediaURLKeys = []string{"downloadAddr", "playAddr", "play_addr", "playUrl", "contentUrl", "video_url"}

// matches both plain and JSON-escaped (\/) URLs; unescape runs afterwards
var cdnVideoPattern = regexp.MustCompile(`https?:[^"'\s]+?\.mp4[^"'\s\\]*`)

// PageScrapeStrategy fetches the public video page as a mobile browser would
// and digs the direct media URL out of the embedded hydration JSON. It is
// the broadest strategy and the usual fallback for every platform.
type PageScrapeStrategy struct {
	client *http.Client
}

func NewPageScrapeStrategy(client *http.Client) *PageScrapeStrategy {
	return &PageScrapeStrategy{client: client}
}

func (s *PageScrapeStrategy) Name() string { return "page-scrape" }

func (s *PageScrapeStrategy) Attempt(ctx context.Context, pageURL string) (*domain.MediaReference, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: err}
	}
	ua := randomMobileUA()
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: fmt.Errorf("page returned %d", resp.StatusCode)}
	}

	html, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: err}
	}

	ref, err := s.parsePage(string(html), pageURL)
	if err != nil {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: err}
	}
	// the media host usually validates the same client fetched both
	ref.RequestHeaders = map[string]string{
		"User-Agent": ua,
		"Referer":    pageURL,
	}
	return ref, nil
}

func (s *PageScrapeStrategy) parsePage(html, pageURL string) (*domain.MediaReference, error) {
	ref := &domain.MediaReference{SourceURL: pageURL}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		s.fillMeta(doc, ref)

		for _, id := range hydrationScriptIDs {
			blob := doc.Find("script#" + id).First().Text()
			if blob == "" {
				continue
			}
			var state interface{}
			if err := json.Unmarshal([]byte(blob), &state); err != nil {
				continue
			}
			if u := findMediaURL(state); u != "" {
				ref.DirectURL = stripWatermarkPath(unescapeMediaURL(u))
				return ref, nil
			}
		}

		if ref.DirectURL != "" {
			return ref, nil
		}
	}

	// regex over the raw page, last resort inside this strategy
	if m := cdnVideoPattern.FindString(html); m != "" {
		ref.DirectURL = stripWatermarkPath(unescapeMediaURL(m))
		return ref, nil
	}
	return nil, fmt.Errorf("no media url found in page")
}

func (s *PageScrapeStrategy) fillMeta(doc *goquery.Document, ref *domain.MediaReference) {
	if v, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		ref.Title = v
	}
	if ref.Title == "" {
		ref.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if v, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		ref.ThumbnailURL = v
	}
	if v, ok := doc.Find(`meta[property="og:video"]`).First().Attr("content"); ok && ref.DirectURL == "" {
		ref.DirectURL = v
	}
	if v, ok := doc.Find(`meta[property="og:video:url"]`).First().Attr("content"); ok && ref.DirectURL == "" {
		ref.DirectURL = v
	}
}

// findMediaURL walks an arbitrary decoded JSON value depth-first looking for
// the first known media key bound to an http(s) URL.
func findMediaURL(node interface{}) string {
	switch v := node.(type) {
	case map[string]interface{}:
		for _, key := range mediaURLKeys {
			if raw, ok := v[key]; ok {
				if u := urlFromValue(raw); u != "" {
					return u
				}
			}
		}
		for _, child := range v {
			if u := findMediaURL(child); u != "" {
				return u
			}
		}
	case []interface{}:
		for _, child := range v {
			if u := findMediaURL(child); u != "" {
				return u
			}
		}
	}
	return ""
}

// urlFromValue extracts a URL from the value under a media key, which is
// either a plain string or an addr object carrying a url_list array.
func urlFromValue(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		if strings.HasPrefix(v, "http") {
			return v
		}
	case map[string]interface{}:
		if list, ok := v["url_list"].([]interface{}); ok {
			for _, item := range list {
				if s, ok := item.(string); ok && strings.HasPrefix(s, "http") {
					return s
				}
			}
		}
		if s, ok := v["uri"].(string); ok && strings.HasPrefix(s, "http") {
			return s
		}
	}
	return ""
}

// unescapeMediaURL undoes the escaping JSON-embedded URLs carry
func unescapeMediaURL(u string) string {
	u = strings.ReplaceAll(u, `\u002F`, "/")
	u = strings.ReplaceAll(u, `\/`, "/")
	return u
}
