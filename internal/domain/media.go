package domain

import (
	"net/url"
	"regexp"
	"strings"
)

// Platform represents the source platform of a media page URL
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformDouyin    Platform = "douyin"
	PlatformYouTube   Platform = "youtube"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformUnknown   Platform = "unknown"
)

// platformHosts maps hostname fragments to platforms
var platformHosts = []struct {
	platform Platform
	hosts    []string
}{
	{PlatformTikTok, []string{"tiktok.com", "vm.tiktok.com", "vt.tiktok.com"}},
	{PlatformDouyin, []string{"douyin.com", "v.douyin.com"}},
	{PlatformYouTube, []string{"youtube.com", "youtu.be", "m.youtube.com"}},
	{PlatformFacebook, []string{"facebook.com", "fb.watch", "m.facebook.com"}},
	{PlatformInstagram, []string{"instagram.com", "instagr.am"}},
}

// DetectPlatform classifies a page URL by hostname. It never fails; anything
// that matches no configured hostname is PlatformUnknown.
func DetectPlatform(rawURL string) Platform {
	u, err := url.Parse(rawURL)
	if err != nil {
		return PlatformUnknown
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return PlatformUnknown
	}
	for _, entry := range platformHosts {
		for _, h := range entry.hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return entry.platform
			}
		}
	}
	return PlatformUnknown
}

// MediaReference is the canonical result of a successful extraction.
// It is immutable once produced.
//
// DirectURL is not guaranteed stable: resolved media URLs expire seconds to
// minutes after being issued. Anyone holding a MediaReference for more than a
// short window must re-resolve through the Extractor before fetching bytes.
type MediaReference struct {
	SourceURL           string            `json:"source_url"`
	Platform            Platform          `json:"platform"`
	DirectURL           string            `json:"direct_url"`
	RequestHeaders      map[string]string `json:"request_headers,omitempty"`
	Title               string            `json:"title,omitempty"`
	UploaderID          string            `json:"uploader_id,omitempty"`
	DurationSeconds     float64           `json:"duration_seconds,omitempty"`
	ThumbnailURL        string            `json:"thumbnail_url,omitempty"`
	ViewCount           int64             `json:"view_count,omitempty"`
	SuggestedFilename   string            `json:"suggested_filename"`
	ApproximateByteSize int64             `json:"approximate_byte_size,omitempty"` // 0 = unknown
}

const maxFilenameLen = 80

var (
	filenameStrip    = regexp.MustCompile(`[<>:"/\\|?*]`)
	filenameNonWord  = regexp.MustCompile(`[^\w\s.-]`)
	filenameCollapse = regexp.MustCompile(`[-\s]+`)
)

// SuggestedFilename derives a safe attachment filename from a media title.
// The result is never empty, contains no path separators or control
// characters, and is capped at 80 characters including the extension.
func SuggestedFilename(title string, platform Platform) string {
	name := filenameStrip.ReplaceAllString(title, "")
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = filenameNonWord.ReplaceAllString(name, "")
	name = strings.Trim(filenameCollapse.ReplaceAllString(name, "-"), "-.")
	if name == "" {
		name = "video"
	}

	prefix := platformPrefix(platform)
	full := prefix + "_" + name + ".mp4"
	if len(full) > maxFilenameLen {
		runes := []rune(name)
		for len(prefix)+1+len(string(runes))+len(".mp4") > maxFilenameLen && len(runes) > 0 {
			runes = runes[:len(runes)-1]
		}
		name = strings.Trim(string(runes), "-.")
		if name == "" {
			name = "video"
		}
		full = prefix + "_" + name + ".mp4"
	}
	return full
}

func platformPrefix(platform Platform) string {
	switch platform {
	case PlatformTikTok:
		return "TikTok"
	case PlatformDouyin:
		return "Douyin"
	case PlatformYouTube:
		return "YouTube"
	case PlatformFacebook:
		return "Facebook"
	case PlatformInstagram:
		return "Instagram"
	default:
		return "Video"
	}
}
