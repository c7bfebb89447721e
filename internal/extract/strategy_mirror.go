package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/vidrelay/vidrelay/internal/domain"
)

var (
	mirrorTokenPattern = regexp.MustCompile(`s_tt\s*[:=]\s*['"]([^'"]+)['"]`)
	mirrorHrefPattern  = regexp.MustCompile(`https?://[^"'\s]+`)
)

// TokenFormMirrorStrategy drives a third-party downloader site that gates its
// converter behind a session token embedded in the landing page. Two
// round-trips: fetch the landing page for the token, then POST the video URL
// to the converter form and scrape the download link out of the HTML
// fragment it returns.
type TokenFormMirrorStrategy struct {
	client  *http.Client
	baseURL string
}

func NewTokenFormMirrorStrategy(client *http.Client, baseURL string) *TokenFormMirrorStrategy {
	return &TokenFormMirrorStrategy{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *TokenFormMirrorStrategy) Name() string { return "mirror-tokenform" }

func (s *TokenFormMirrorStrategy) Attempt(ctx context.Context, pageURL string) (*domain.MediaReference, error) {
	ua := randomDesktopUA()

	token, err := s.fetchToken(ctx, ua)
	if err != nil {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: err}
	}

	downloadURL, err := s.convert(ctx, ua, token, pageURL)
	if err != nil {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: err}
	}

	return &domain.MediaReference{
		SourceURL: pageURL,
		DirectURL: downloadURL,
		RequestHeaders: map[string]string{
			"User-Agent": ua,
			"Referer":    s.baseURL + "/",
		},
	}, nil
}

func (s *TokenFormMirrorStrategy) fetchToken(ctx context.Context, ua string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/en", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", ua)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mirror landing page returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", err
	}

	m := mirrorTokenPattern.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("no session token in mirror landing page")
	}
	return string(m[1]), nil
}

func (s *TokenFormMirrorStrategy) convert(ctx context.Context, ua, token, pageURL string) (string, error) {
	form := url.Values{}
	form.Set("id", pageURL)
	form.Set("locale", "en")
	form.Set("tt", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/abc?url=dl", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", s.baseURL+"/en")
	req.Header.Set("Origin", s.baseURL)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mirror converter returned %d", resp.StatusCode)
	}

	fragment, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(fragment)))
	if err != nil {
		return "", fmt.Errorf("parse converter response: %w", err)
	}

	var downloadURL string
	doc.Find("a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok || !strings.HasPrefix(href, "http") {
			return true
		}
		// skip the mirror's own nav links, keep converter output
		if strings.Contains(href, s.baseURL) {
			return true
		}
		downloadURL = href
		return false
	})
	if downloadURL == "" {
		// some converter responses inline the link in a script block
		if m := mirrorHrefPattern.FindString(string(fragment)); m != "" && !strings.Contains(m, s.baseURL) {
			downloadURL = m
		}
	}
	if downloadURL == "" {
		return "", fmt.Errorf("no download link in converter response")
	}
	return downloadURL, nil
}

// JSONMirrorStrategy queries a third-party downloader that exposes a plain
// JSON API. Single round-trip, rich metadata, but the service itself rate
// limits aggressively, so it sits late in the chain.
type JSONMirrorStrategy struct {
	client  *http.Client
	baseURL string
}

func NewJSONMirrorStrategy(client *http.Client, baseURL string) *JSONMirrorStrategy {
	return &JSONMirrorStrategy{client: client, baseURL: baseURL}
}

func (s *JSONMirrorStrategy) Name() string { return "mirror-jsonapi" }

type jsonMirrorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Play     string  `json:"play"`
		HDPlay   string  `json:"hdplay"`
		Title    string  `json:"title"`
		Cover    string  `json:"cover"`
		Duration float64 `json:"duration"`
		Size     int64   `json:"size"`
		Author   struct {
			UniqueID string `json:"unique_id"`
		} `json:"author"`
	} `json:"data"`
}

func (s *JSONMirrorStrategy) Attempt(ctx context.Context, pageURL string) (*domain.MediaReference, error) {
	endpoint := fmt.Sprintf("%s?url=%s&hd=1", s.baseURL, url.QueryEscape(pageURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: err}
	}
	ua := randomDesktopUA()
	req.Header.Set("User-Agent", ua)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: fmt.Errorf("mirror api returned %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: err}
	}

	var mr jsonMirrorResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: fmt.Errorf("decode mirror response: %w", err)}
	}
	if mr.Code != 0 {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: fmt.Errorf("mirror api error: %s", mr.Msg)}
	}

	direct := mr.Data.HDPlay
	if direct == "" {
		direct = mr.Data.Play
	}
	if direct == "" {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: fmt.Errorf("mirror response has no media url")}
	}
	// mirror play paths can be relative to the mirror host
	if strings.HasPrefix(direct, "/") {
		base, err := url.Parse(s.baseURL)
		if err == nil {
			direct = base.Scheme + "://" + base.Host + direct
		}
	}

	return &domain.MediaReference{
		SourceURL:           pageURL,
		DirectURL:           direct,
		Title:               mr.Data.Title,
		UploaderID:          mr.Data.Author.UniqueID,
		DurationSeconds:     mr.Data.Duration,
		ThumbnailURL:        mr.Data.Cover,
		ApproximateByteSize: mr.Data.Size,
		RequestHeaders: map[string]string{
			"User-Agent": ua,
		},
	}, nil
}
