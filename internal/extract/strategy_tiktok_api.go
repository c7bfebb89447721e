package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/vidrelay/vidrelay/internal/domain"
)

// awemeEndpoints are the unauthenticated mobile feed endpoints, in rotation
// order. Individual hosts get rate limited or geo-blocked independently, so
// the strategy walks the list until one answers with a playable feed.
var awemeEndpoints = []string{
	"https://api16-normal-c-useast1a.tiktokv.com/aweme/v1/feed/?aweme_id=%s",
	"https://api19-normal-c-useast1a.tiktokv.com/aweme/v1/feed/?aweme_id=%s",
	"https://api22-normal-c-useast2a.tiktokv.com/aweme/v1/feed/?aweme_id=%s",
	"https://api16-normal-useast5.us.tiktokv.com/aweme/v1/feed/?aweme_id=%s",
}

var videoIDPattern = regexp.MustCompile(`/(?:video|photo)/(\d+)`)

// TikTokAPIStrategy resolves a TikTok page through the mobile feed API. It is
// first in the chain: when it works it returns watermark-free media with full
// metadata and no HTML parsing.
type TikTokAPIStrategy struct {
	client *http.Client
}

func NewTikTokAPIStrategy(client *http.Client) *TikTokAPIStrategy {
	return &TikTokAPIStrategy{client: client}
}

func (s *TikTokAPIStrategy) Name() string { return "tiktok-api" }

func (s *TikTokAPIStrategy) Attempt(ctx context.Context, pageURL string) (*domain.MediaReference, error) {
	m := videoIDPattern.FindStringSubmatch(pageURL)
	if m == nil {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: fmt.Errorf("no video id in %s", pageURL)}
	}
	videoID := m[1]

	var lastErr error
	for _, endpoint := range awemeEndpoints {
		if err := ctx.Err(); err != nil {
			return nil, &domain.StrategyError{Strategy: s.Name(), Err: err}
		}
		ref, err := s.fetchFeed(ctx, fmt.Sprintf(endpoint, videoID), pageURL)
		if err != nil {
			lastErr = err
			continue
		}
		return ref, nil
	}
	return nil, &domain.StrategyError{Strategy: s.Name(), Err: fmt.Errorf("all feed endpoints failed, last: %w", lastErr)}
}

type awemeFeed struct {
	AwemeList []struct {
		Desc   string `json:"desc"`
		Author struct {
			UniqueID string `json:"unique_id"`
		} `json:"author"`
		Video struct {
			PlayAddr struct {
				URLList  []string `json:"url_list"`
				DataSize int64    `json:"data_size"`
			} `json:"play_addr"`
			Cover struct {
				URLList []string `json:"url_list"`
			} `json:"cover"`
			Duration int64 `json:"duration"` // milliseconds
		} `json:"video"`
		Statistics struct {
			PlayCount int64 `json:"play_count"`
		} `json:"statistics"`
	} `json:"aweme_list"`
}

func (s *TikTokAPIStrategy) fetchFeed(ctx context.Context, endpoint, pageURL string) (*domain.MediaReference, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", randomMobileUA())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var feed awemeFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	if len(feed.AwemeList) == 0 {
		return nil, fmt.Errorf("empty aweme list")
	}

	item := feed.AwemeList[0]
	if len(item.Video.PlayAddr.URLList) == 0 {
		return nil, fmt.Errorf("no play address in feed")
	}

	ref := &domain.MediaReference{
		SourceURL:           pageURL,
		DirectURL:           stripWatermarkPath(item.Video.PlayAddr.URLList[0]),
		Title:               item.Desc,
		UploaderID:          item.Author.UniqueID,
		DurationSeconds:     float64(item.Video.Duration) / 1000,
		ViewCount:           item.Statistics.PlayCount,
		ApproximateByteSize: item.Video.PlayAddr.DataSize,
		RequestHeaders: map[string]string{
			"User-Agent": randomMobileUA(),
			"Referer":    "https://www.tiktok.com/",
		},
	}
	if len(item.Video.Cover.URLList) > 0 {
		ref.ThumbnailURL = item.Video.Cover.URLList[0]
	}
	return ref, nil
}

// stripWatermarkPath rewrites the watermarked play path to the clean variant.
// The CDN serves both; only the path segment differs.
func stripWatermarkPath(mediaURL string) string {
	return strings.Replace(mediaURL, "playwm", "play", 1)
}
