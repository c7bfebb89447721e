package domain

import "context"

// Strategy is one extraction technique for one or more platforms. Strategies
// hold no mutable state and are safe to invoke concurrently for different
// URLs. Any problem (network error, unexpected response shape, missing media
// field, blocked response) is reported as a *StrategyError.
type Strategy interface {
	// Name identifies the strategy in diagnostics
	Name() string

	// Attempt resolves a page URL to a MediaReference. The context carries
	// the per-strategy deadline.
	Attempt(ctx context.Context, url string) (*MediaReference, error)
}

// Extractor resolves a page URL to a fresh MediaReference. It is the only
// entry point external callers use, both for metadata display and for
// pre-flighting a session; the relay re-invokes it on every stream request
// because direct URLs expire.
type Extractor interface {
	ExtractDirect(ctx context.Context, url string) (*MediaReference, error)
}

// Publisher is the injected push capability for progress telemetry. The
// transport behind it (websocket hub, desktop notifier, log) is external to
// the core.
type Publisher interface {
	Publish(event string, payload interface{})
}

// Event names published by the relay
const (
	EventDownloadStatus   = "download_status"
	EventDownloadProgress = "download_progress"
)

// ProgressEvent is the payload published on the push channel while a session
// streams. Optional fields are omitted when unknown.
type ProgressEvent struct {
	SessionID        string       `json:"id"`
	Status           SessionState `json:"status"`
	BytesTransferred int64        `json:"downloaded_bytes,omitempty"`
	TotalBytes       int64        `json:"total_bytes,omitempty"`
	ThroughputBPS    float64      `json:"speed,omitempty"`
	Percentage       float64      `json:"percentage,omitempty"`
	ETASeconds       float64      `json:"eta,omitempty"`
	ElapsedSeconds   float64      `json:"elapsed,omitempty"`
	ErrorDetail      string       `json:"error,omitempty"`
}
