package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vidrelay/vidrelay/internal/domain"
)

type stubExtractor struct {
	ref   *domain.MediaReference
	err   error
	calls int
}

func (s *stubExtractor) ExtractDirect(ctx context.Context, url string) (*domain.MediaReference, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.ref, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	name    string
	payload domain.ProgressEvent
}

func (p *recordingPublisher) Publish(event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pe, ok := payload.(domain.ProgressEvent); ok {
		p.events = append(p.events, publishedEvent{name: event, payload: pe})
	}
}

func (p *recordingPublisher) byName(name string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type recordingArchiver struct {
	mu    sync.Mutex
	snaps []domain.SessionSnapshot
}

func (a *recordingArchiver) Record(snap domain.SessionSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snaps = append(a.snaps, snap)
}

type bufferSink struct {
	buf          bytes.Buffer
	headerCalls  int
	statusCode   int
	header       http.Header
	failAfter    int // bytes; 0 means never fail
	writtenTotal int
}

func (s *bufferSink) Write(p []byte) (int, error) {
	if s.failAfter > 0 && s.writtenTotal >= s.failAfter {
		return 0, errors.New("broken pipe")
	}
	n, err := s.buf.Write(p)
	s.writtenTotal += n
	return n, err
}

func (s *bufferSink) WriteUpstreamHeaders(statusCode int, header http.Header) {
	s.headerCalls++
	s.statusCode = statusCode
	s.header = header
}

func testRelayConfig() domain.RelayConfig {
	cfg := domain.DefaultConfig().Relay
	cfg.ChunkSize = 1024
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffCap = 4 * time.Millisecond
	cfg.ProgressInterval = 10 * time.Millisecond
	return cfg
}

func newTestSession() *domain.DownloadSession {
	return domain.NewDownloadSession(&domain.MediaReference{
		SourceURL:         "https://www.tiktok.com/@u/video/1",
		Platform:          domain.PlatformTikTok,
		DirectURL:         "https://stale.example.com/old.mp4",
		SuggestedFilename: "TikTok_v.mp4",
	})
}

func refTo(u string) *domain.MediaReference {
	return &domain.MediaReference{
		SourceURL: "https://www.tiktok.com/@u/video/1",
		Platform:  domain.PlatformTikTok,
		DirectURL: u,
		RequestHeaders: map[string]string{
			"User-Agent": "test-agent",
			"Referer":    "https://www.tiktok.com/",
		},
	}
}

func TestStreamRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 4096) // 32 KiB

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()

	ext := &stubExtractor{ref: refTo(srv.URL + "/v.mp4")}
	pub := &recordingPublisher{}
	arch := &recordingArchiver{}
	rly := New(ext, testRelayConfig(), pub, arch, zap.NewNop())

	sess := newTestSession()
	sink := &bufferSink{}

	err := rly.Stream(context.Background(), sess, "", sink)
	require.NoError(t, err)

	assert.Equal(t, domain.StateCompleted, sess.State())
	assert.Equal(t, payload, sink.buf.Bytes())
	assert.Equal(t, int64(len(payload)), sess.BytesTransferred())
	assert.Equal(t, 1, sink.headerCalls)
	assert.Equal(t, http.StatusOK, sink.statusCode)
	assert.Equal(t, "video/mp4", sink.header.Get("Content-Type"))
	assert.Equal(t, 1, ext.calls, "direct url must be re-resolved for the stream")

	// final progress event reports the full transfer
	progress := pub.byName(domain.EventDownloadProgress)
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1].payload
	assert.Equal(t, int64(len(payload)), last.BytesTransferred)
	assert.InDelta(t, 100.0, last.Percentage, 0.01)

	require.Len(t, arch.snaps, 1)
	assert.Equal(t, domain.StateCompleted, arch.snaps[0].State)
}

func TestStreamForwardsRangeHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=100-", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "bytes 100-199/200")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(bytes.Repeat([]byte("x"), 100))
	}))
	defer srv.Close()

	rly := New(&stubExtractor{ref: refTo(srv.URL)}, testRelayConfig(), nil, nil, zap.NewNop())
	sess := newTestSession()
	sink := &bufferSink{}

	err := rly.Stream(context.Background(), sess, "bytes=100-", sink)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, sink.statusCode)
	assert.Equal(t, "bytes 100-199/200", sink.header.Get("Content-Range"))
}

func TestStreamTerminalStatusFailsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ext := &stubExtractor{ref: refTo(srv.URL)}
	pub := &recordingPublisher{}
	arch := &recordingArchiver{}
	rly := New(ext, testRelayConfig(), pub, arch, zap.NewNop())

	sess := newTestSession()
	sink := &bufferSink{}

	err := rly.Stream(context.Background(), sess, "", sink)
	require.Error(t, err)

	assert.Equal(t, domain.StateFailed, sess.State())
	assert.Zero(t, sink.buf.Len(), "no bytes must reach the consumer")
	assert.Zero(t, sink.headerCalls)
	assert.Equal(t, 1, ext.calls, "terminal status must not trigger re-extraction retries")

	statuses := pub.byName(domain.EventDownloadStatus)
	require.NotEmpty(t, statuses)
	final := statuses[len(statuses)-1].payload
	assert.Equal(t, domain.StateFailed, final.Status)
	assert.NotEmpty(t, final.ErrorDetail)

	require.Len(t, arch.snaps, 1)
	assert.Equal(t, domain.StateFailed, arch.snaps[0].State)
}

func TestStreamRetriesOnServerError(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("media-bytes"))
	}))
	defer srv.Close()

	rly := New(&stubExtractor{ref: refTo(srv.URL)}, testRelayConfig(), nil, nil, zap.NewNop())
	sess := newTestSession()
	sink := &bufferSink{}

	err := rly.Stream(context.Background(), sess, "", sink)
	require.NoError(t, err)
	assert.Equal(t, 3, hits)
	assert.Equal(t, domain.StateCompleted, sess.State())
	assert.Equal(t, "media-bytes", sink.buf.String())
}

func TestStreamExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := testRelayConfig()
	cfg.MaxAttempts = 2
	rly := New(&stubExtractor{ref: refTo(srv.URL)}, cfg, nil, nil, zap.NewNop())
	sess := newTestSession()

	err := rly.Stream(context.Background(), sess, "", &bufferSink{})
	require.Error(t, err)
	assert.Equal(t, domain.StateFailed, sess.State())
}

func TestStreamExtractionFailureFailsSession(t *testing.T) {
	ext := &stubExtractor{err: errors.New("all strategies exhausted")}
	pub := &recordingPublisher{}
	rly := New(ext, testRelayConfig(), pub, nil, zap.NewNop())

	sess := newTestSession()
	err := rly.Stream(context.Background(), sess, "", &bufferSink{})

	require.Error(t, err)
	assert.Equal(t, domain.StateFailed, sess.State())
}

func TestStreamConsumerDisconnect(t *testing.T) {
	const chunk = 1024
	const totalChunks = 64

	var chunksSent int
	handlerDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(handlerDone)
		flusher := w.(http.Flusher)
		for i := 0; i < totalChunks; i++ {
			if r.Context().Err() != nil {
				return
			}
			if _, err := w.Write(bytes.Repeat([]byte("y"), chunk)); err != nil {
				return
			}
			flusher.Flush()
			chunksSent++
			time.Sleep(2 * time.Millisecond)
		}
	}))
	defer srv.Close()

	rly := New(&stubExtractor{ref: refTo(srv.URL)}, testRelayConfig(), nil, nil, zap.NewNop())
	sess := newTestSession()
	sink := &bufferSink{failAfter: 2 * chunk}

	err := rly.Stream(context.Background(), sess, "", sink)
	assert.ErrorIs(t, err, domain.ErrCancelledByConsumer)

	// a disconnect is not a failure; the consumer can come back
	assert.Equal(t, domain.StateStreaming, sess.State())

	// dropping the consumer must also stop the upstream fetch
	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream kept serving after the consumer was gone")
	}
	assert.Less(t, chunksSent, totalChunks)
}

func TestStreamAfterDisconnectRestartsCleanly(t *testing.T) {
	payload := bytes.Repeat([]byte("z"), 8*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()

	ext := &stubExtractor{ref: refTo(srv.URL)}
	pub := &recordingPublisher{}
	arch := &recordingArchiver{}
	rly := New(ext, testRelayConfig(), pub, arch, zap.NewNop())
	sess := newTestSession()

	// first consumer hangs up after 1 KiB
	err := rly.Stream(context.Background(), sess, "", &bufferSink{failAfter: 1024})
	require.ErrorIs(t, err, domain.ErrCancelledByConsumer)
	require.Equal(t, domain.StateStreaming, sess.State())

	// second pass delivers the whole body and counts from zero
	sink := &bufferSink{}
	require.NoError(t, rly.Stream(context.Background(), sess, "", sink))

	assert.Equal(t, domain.StateCompleted, sess.State())
	assert.Equal(t, payload, sink.buf.Bytes())
	assert.Equal(t, int64(len(payload)), sess.BytesTransferred())

	progress := pub.byName(domain.EventDownloadProgress)
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1].payload
	assert.Equal(t, int64(len(payload)), last.BytesTransferred)
	assert.InDelta(t, 100.0, last.Percentage, 0.01)

	require.Len(t, arch.snaps, 1)
	assert.Equal(t, int64(len(payload)), arch.snaps[0].BytesTransferred)
}

func TestStreamFromTerminalSessionRejected(t *testing.T) {
	sess := newTestSession()
	require.NoError(t, sess.MarkStreaming())
	require.NoError(t, sess.MarkCompleted())

	rly := New(&stubExtractor{ref: refTo("http://unused")}, testRelayConfig(), nil, nil, zap.NewNop())
	err := rly.Stream(context.Background(), sess, "", &bufferSink{})
	assert.Error(t, err)
}

func TestBackoffCapped(t *testing.T) {
	cfg := testRelayConfig()
	cfg.BackoffBase = time.Second
	cfg.BackoffCap = 4 * time.Second
	rly := New(&stubExtractor{}, cfg, nil, nil, zap.NewNop())

	assert.Equal(t, time.Second, rly.backoff(1))
	assert.Equal(t, 2*time.Second, rly.backoff(2))
	assert.Equal(t, 4*time.Second, rly.backoff(3))
	assert.Equal(t, 4*time.Second, rly.backoff(4))
}
