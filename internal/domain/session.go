package domain

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState represents the lifecycle state of a download session
type SessionState string

const (
	StateReady     SessionState = "ready"
	StateStreaming SessionState = "streaming"
	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
)

// IsTerminal reports whether the state admits no further transitions.
func (s SessionState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// DownloadSession is the mutable per-stream bookkeeping record. It is owned
// by the registry; the relay holds a reference while streaming. The fields
// set at creation time are immutable; everything else is guarded by the
// session's own mutex so concurrent readers see consistent values.
type DownloadSession struct {
	ID           string
	SourceURL    string
	Platform     Platform
	Filename     string
	DeclaredSize int64 // 0 = unknown
	CreatedAt    time.Time

	mu               sync.Mutex
	state            SessionState
	bytesTransferred int64
	totalBytes       int64
	startedAt        time.Time
	lastEventAt      time.Time
	failureReason    string
}

// NewDownloadSession creates a session in StateReady from an extraction result.
func NewDownloadSession(ref *MediaReference) *DownloadSession {
	return &DownloadSession{
		ID:           uuid.New().String(),
		SourceURL:    ref.SourceURL,
		Platform:     ref.Platform,
		Filename:     ref.SuggestedFilename,
		DeclaredSize: ref.ApproximateByteSize,
		CreatedAt:    time.Now(),
		state:        StateReady,
	}
}

// State returns the current state.
func (s *DownloadSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MarkStreaming transitions Ready -> Streaming. A session left streaming by
// a disconnected consumer may be streamed again; each entry resets the
// transfer count so every pass is accounted from zero. Concurrent stream
// calls for one id are the caller's problem, but they must not corrupt the
// record. Terminal states are final.
func (s *DownloadSession) MarkStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady, StateStreaming:
		s.state = StateStreaming
		s.startedAt = time.Now()
		s.bytesTransferred = 0
		return nil
	default:
		return fmt.Errorf("session %s is %s, cannot stream", s.ID, s.state)
	}
}

// MarkCompleted transitions Streaming -> Completed.
func (s *DownloadSession) MarkCompleted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return fmt.Errorf("session %s is %s, cannot complete", s.ID, s.state)
	}
	s.state = StateCompleted
	s.lastEventAt = time.Now()
	return nil
}

// MarkFailed transitions Streaming -> Failed and records the reason.
func (s *DownloadSession) MarkFailed(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return fmt.Errorf("session %s is %s, cannot fail", s.ID, s.state)
	}
	s.state = StateFailed
	s.failureReason = reason
	s.lastEventAt = time.Now()
	return nil
}

// AddBytes adds n to the transferred byte count and returns the new total.
func (s *DownloadSession) AddBytes(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesTransferred += n
	s.lastEventAt = time.Now()
	return s.bytesTransferred
}

// SetTotalBytes records the upstream-declared content length, when known.
func (s *DownloadSession) SetTotalBytes(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalBytes = n
}

// BytesTransferred returns the current transferred byte count.
func (s *DownloadSession) BytesTransferred() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesTransferred
}

// StartedAt returns the time streaming began (zero if never started).
func (s *DownloadSession) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// SessionSnapshot is a consistent, copyable view of a session for JSON
// responses and archiving.
type SessionSnapshot struct {
	ID               string       `json:"id"`
	SourceURL        string       `json:"source_url"`
	Platform         Platform     `json:"platform"`
	Filename         string       `json:"filename"`
	DeclaredSize     int64        `json:"declared_size,omitempty"`
	State            SessionState `json:"state"`
	BytesTransferred int64        `json:"bytes_transferred"`
	TotalBytes       int64        `json:"total_bytes,omitempty"`
	FailureReason    string       `json:"failure_reason,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	StartedAt        *time.Time   `json:"started_at,omitempty"`
	LastEventAt      *time.Time   `json:"last_event_at,omitempty"`
}

// Snapshot returns a point-in-time copy of the session.
func (s *DownloadSession) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SessionSnapshot{
		ID:               s.ID,
		SourceURL:        s.SourceURL,
		Platform:         s.Platform,
		Filename:         s.Filename,
		DeclaredSize:     s.DeclaredSize,
		State:            s.state,
		BytesTransferred: s.bytesTransferred,
		TotalBytes:       s.totalBytes,
		FailureReason:    s.failureReason,
		CreatedAt:        s.CreatedAt,
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
	}
	if !s.lastEventAt.IsZero() {
		t := s.lastEventAt
		snap.LastEventAt = &t
	}
	return snap
}
