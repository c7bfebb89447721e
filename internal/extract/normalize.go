package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// shortLinkHosts serve a redirect to the canonical page URL. Share sheets on
// mobile produce these almost exclusively, so they must be resolved before
// any strategy can run.
var shortLinkHosts = map[string]bool{
	"vm.tiktok.com": true,
	"vt.tiktok.com": true,
	"v.douyin.com":  true,
	"youtu.be":      false, // canonical enough, strategies handle it directly
}

// NormalizeURL resolves share short-links to their canonical page URL and
// strips tracking query parameters that some upstreams reject. Non-short
// URLs pass through with at most the query cleanup applied.
func NormalizeURL(ctx context.Context, client *http.Client, rawURL string, timeout time.Duration) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	if shortLinkHosts[u.Hostname()] {
		resolved, err := followRedirect(ctx, client, u.String(), timeout)
		if err != nil {
			return "", err
		}
		u, err = url.Parse(resolved)
		if err != nil {
			return "", fmt.Errorf("parse resolved url: %w", err)
		}
	}

	// TikTok video pages carry share-tracking params that poison cache keys
	// and occasionally trip the web endpoints
	if strings.HasSuffix(u.Hostname(), "tiktok.com") || strings.HasSuffix(u.Hostname(), "douyin.com") {
		u.RawQuery = ""
		u.Fragment = ""
	}
	return u.String(), nil
}

func followRedirect(ctx context.Context, client *http.Client, shortURL string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, shortURL, nil)
	if err != nil {
		return "", fmt.Errorf("build redirect request: %w", err)
	}
	req.Header.Set("User-Agent", randomMobileUA())

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve short link: %w", err)
	}
	defer resp.Body.Close()

	// client follows redirects, the final URL is the canonical page
	final := resp.Request.URL.String()
	if final == "" || final == shortURL {
		return "", fmt.Errorf("short link %s did not redirect", shortURL)
	}
	return final, nil
}
