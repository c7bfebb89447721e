package extract

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vidrelay/vidrelay/internal/domain"
)

// Service is the extraction facade. It owns one resolution chain per
// supported platform and a shared HTTP client for the strategies that need
// one. Every call resolves from scratch; nothing is cached, because direct
// URLs go stale within minutes.
type Service struct {
	cfg    domain.ExtractConfig
	client *http.Client
	chains map[domain.Platform]*Chain
	log    *zap.Logger
}

// NewService wires the per-platform chains from configuration.
func NewService(cfg domain.ExtractConfig, log *zap.Logger) *Service {
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        20,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		// deadlines come from the per-strategy context
		Timeout: 0,
	}

	s := &Service{
		cfg:    cfg,
		client: client,
		chains: make(map[domain.Platform]*Chain),
		log:    log.Named("extract"),
	}

	scrape := NewPageScrapeStrategy(client)
	tokenMirror := WithTimeoutHint(NewTokenFormMirrorStrategy(client, cfg.TokenMirrorURL), cfg.MirrorTimeout)
	jsonMirror := WithTimeoutHint(NewJSONMirrorStrategy(client, cfg.JSONMirrorURL), cfg.MirrorTimeout)

	s.register(domain.PlatformTikTok,
		NewTikTokAPIStrategy(client),
		scrape,
		tokenMirror,
		jsonMirror,
	)
	s.register(domain.PlatformDouyin,
		scrape,
		jsonMirror,
	)
	s.register(domain.PlatformYouTube,
		NewYouTubeNativeStrategy(),
		scrape,
	)
	s.register(domain.PlatformInstagram, scrape)
	s.register(domain.PlatformFacebook, scrape)

	return s
}

func (s *Service) register(platform domain.Platform, strategies ...domain.Strategy) {
	s.chains[platform] = NewChain(platform, strategies, s.cfg.StrategyTimeout, s.cfg.ChainTimeout, s.log)
}

// ExtractDirect resolves a page URL to a fresh MediaReference. The result is
// complete: platform classified, direct URL resolved, filename suggested.
func (s *Service) ExtractDirect(ctx context.Context, rawURL string) (*domain.MediaReference, error) {
	pageURL, err := NormalizeURL(ctx, s.client, rawURL, s.cfg.ResolveTimeout)
	if err != nil {
		return nil, fmt.Errorf("normalize url: %w", err)
	}

	platform := domain.DetectPlatform(pageURL)
	chain, ok := s.chains[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedPlatform, pageURL)
	}

	ref, err := chain.Resolve(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	ref.Platform = platform
	if ref.SourceURL == "" {
		ref.SourceURL = pageURL
	}
	if ref.SuggestedFilename == "" {
		ref.SuggestedFilename = domain.SuggestedFilename(ref.Title, platform)
	}
	return ref, nil
}
