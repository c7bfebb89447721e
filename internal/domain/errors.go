package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedPlatform is returned when a URL matches no configured
	// extraction chain. Never retried.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrSessionNotFound is returned when a session id is unknown or has
	// already been swept.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCancelledByConsumer signals that the streaming client went away.
	// It is a clean early termination, not a failure.
	ErrCancelledByConsumer = errors.New("cancelled by consumer")

	// ErrNoMediaURL is returned by a strategy whose upstream answered but
	// produced no usable direct URL.
	ErrNoMediaURL = errors.New("no media URL found")
)

// StrategyError wraps a single extraction strategy failure. It is recovered
// locally by the chain and only surfaces inside the aggregate diagnostics.
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

// ExtractionFailedError is the chain-level failure: every strategy for the
// platform was tried and none produced a direct URL. The user-facing message
// is a single sentence; per-strategy diagnostics are kept for logging.
type ExtractionFailedError struct {
	Platform Platform
	URL      string
	Attempts []string
}

func (e *ExtractionFailedError) Error() string {
	return fmt.Sprintf("%s extraction failed: the video may be private, deleted, or protected", e.Platform)
}

// Detail returns the joined per-strategy failure messages for diagnostics.
func (e *ExtractionFailedError) Detail() string {
	return strings.Join(e.Attempts, "; ")
}
