package extract

import (
	"context"
	"fmt"

	youtube "github.com/kkdai/youtube/v2"

	"github.com/vidrelay/vidrelay/internal/domain"
)

// YouTubeNativeStrategy resolves YouTube pages through the innertube player
// API instead of scraping HTML. It prefers progressive formats (video and
// audio muxed) so the relay can pass a single stream through untouched.
type YouTubeNativeStrategy struct {
	client *youtube.Client
}

func NewYouTubeNativeStrategy() *YouTubeNativeStrategy {
	return &YouTubeNativeStrategy{client: &youtube.Client{}}
}

func (s *YouTubeNativeStrategy) Name() string { return "youtube-native" }

func (s *YouTubeNativeStrategy) Attempt(ctx context.Context, pageURL string) (*domain.MediaReference, error) {
	video, err := s.client.GetVideoContext(ctx, pageURL)
	if err != nil {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: fmt.Errorf("resolve video: %w", err)}
	}

	format := pickFormat(video.Formats)
	if format == nil {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: fmt.Errorf("no usable format for %s", video.ID)}
	}

	streamURL, err := s.client.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return nil, &domain.StrategyError{Strategy: s.Name(), Err: fmt.Errorf("resolve stream url: %w", err)}
	}

	ref := &domain.MediaReference{
		SourceURL:           pageURL,
		DirectURL:           streamURL,
		Title:               video.Title,
		UploaderID:          video.Author,
		DurationSeconds:     video.Duration.Seconds(),
		ApproximateByteSize: format.ContentLength,
		RequestHeaders: map[string]string{
			"User-Agent": randomDesktopUA(),
		},
	}
	if len(video.Thumbnails) > 0 {
		ref.ThumbnailURL = video.Thumbnails[len(video.Thumbnails)-1].URL
	}
	return ref, nil
}

// pickFormat prefers the highest-resolution progressive format, then the
// highest-resolution video-only format, then whatever is left.
func pickFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		// audio-only renditions report channels but no height
		if f.AudioChannels == 0 || f.Height == 0 {
			continue
		}
		if best == nil || f.Height > best.Height {
			best = f
		}
	}
	if best != nil {
		return best
	}
	for i := range formats {
		f := &formats[i]
		if best == nil || f.Height > best.Height {
			best = f
		}
	}
	return best
}
