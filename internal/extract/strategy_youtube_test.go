package extract

import (
	"testing"

	youtube "github.com/kkdai/youtube/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickFormatPrefersProgressive(t *testing.T) {
	formats := youtube.FormatList{
		{ItagNo: 137, Height: 1080, AudioChannels: 0},
		{ItagNo: 22, Height: 720, AudioChannels: 2},
		{ItagNo: 18, Height: 360, AudioChannels: 2},
	}

	got := pickFormat(formats)
	require.NotNil(t, got)
	// 1080p is video-only, so the best muxed format wins
	assert.Equal(t, 22, got.ItagNo)
}

func TestPickFormatFallsBackToVideoOnly(t *testing.T) {
	formats := youtube.FormatList{
		{ItagNo: 136, Height: 720, AudioChannels: 0},
		{ItagNo: 137, Height: 1080, AudioChannels: 0},
	}

	got := pickFormat(formats)
	require.NotNil(t, got)
	assert.Equal(t, 137, got.ItagNo)
}

func TestPickFormatSkipsAudioOnly(t *testing.T) {
	formats := youtube.FormatList{
		{ItagNo: 140, Height: 0, AudioChannels: 2},
		{ItagNo: 137, Height: 1080, AudioChannels: 0},
	}

	got := pickFormat(formats)
	require.NotNil(t, got)
	// an audio-only rendition must not beat the best video stream
	assert.Equal(t, 137, got.ItagNo)
}

func TestPickFormatEmptyList(t *testing.T) {
	assert.Nil(t, pickFormat(nil))
	assert.Nil(t, pickFormat(youtube.FormatList{}))
}

func TestYouTubeNativeStrategyName(t *testing.T) {
	assert.Equal(t, "youtube-native", NewYouTubeNativeStrategy().Name())
}
