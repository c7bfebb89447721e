package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vidrelay/vidrelay/internal/domain"
)

// ResponseSink is where relayed bytes go. The handler implements it over the
// HTTP response; tests implement it over a buffer. Upstream headers are
// delivered exactly once, before the first byte.
type ResponseSink interface {
	io.Writer
	WriteUpstreamHeaders(statusCode int, header http.Header)
}

// Archiver records finished sessions. Nil-safe from the relay's side via the
// noop implementation in infrastructure.
type Archiver interface {
	Record(snap domain.SessionSnapshot)
}

// Relay streams media bytes from the source CDN to a consumer. A relay never
// trusts a stored direct URL: it re-extracts on every Stream call because
// direct URLs carry short-lived signatures.
type Relay struct {
	extractor domain.Extractor
	cfg       domain.RelayConfig
	publisher domain.Publisher
	archiver  Archiver
	client    *http.Client
	log       *zap.Logger
}

// New builds a relay. The media fetch client optionally skips certificate
// verification; some regional CDNs present chains stock verifiers reject,
// and the payload is public media over a URL we just resolved ourselves.
func New(extractor domain.Extractor, cfg domain.RelayConfig, publisher domain.Publisher, archiver Archiver, log *zap.Logger) *Relay {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
	}
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Relay{
		extractor: extractor,
		cfg:       cfg,
		publisher: publisher,
		archiver:  archiver,
		client:    &http.Client{Transport: transport},
		log:       log.Named("relay"),
	}
}

// Stream resolves the session's source URL to a fresh direct URL and copies
// the media body into sink. rangeHeader, when non-empty, is forwarded
// upstream verbatim so seeking players keep working.
//
// Retries with backoff apply only until the first byte reaches the sink;
// after that any upstream failure fails the session, because the consumer
// already has a partial body.
func (r *Relay) Stream(ctx context.Context, sess *domain.DownloadSession, rangeHeader string, sink ResponseSink) error {
	if err := sess.MarkStreaming(); err != nil {
		return err
	}
	r.publishStatus(sess, "")

	ref, err := r.extractor.ExtractDirect(ctx, sess.SourceURL)
	if err != nil {
		r.fail(sess, fmt.Sprintf("re-extraction failed: %v", err))
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(r.backoff(attempt - 1)):
			case <-ctx.Done():
				return r.consumerGone(sess, ctx.Err())
			}
		}

		done, err := r.fetch(ctx, sess, ref, rangeHeader, sink)
		if err == nil {
			return nil
		}
		if done {
			// terminal on first response, or bytes already flowed
			if errors.Is(err, domain.ErrCancelledByConsumer) {
				return err
			}
			r.fail(sess, err.Error())
			return err
		}

		lastErr = err
		r.log.Warn("media fetch failed, retrying",
			zap.String("session_id", sess.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	r.fail(sess, fmt.Sprintf("media fetch failed after %d attempts: %v", r.cfg.MaxAttempts, lastErr))
	return lastErr
}

// fetch performs one upstream attempt. The bool reports whether the error is
// final: true means do not retry (success, terminal status, consumer gone,
// or bytes already written), false means the attempt may be repeated.
func (r *Relay) fetch(ctx context.Context, sess *domain.DownloadSession, ref *domain.MediaReference, rangeHeader string, sink ResponseSink) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.DirectURL, nil)
	if err != nil {
		return true, fmt.Errorf("build media request: %w", err)
	}
	for k, v := range ref.RequestHeaders {
		req.Header.Set(k, v)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return true, r.consumerGone(sess, ctx.Err())
		}
		return false, fmt.Errorf("connect to media host: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		// proceed
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
		return true, fmt.Errorf("media host refused the resolved url: %d", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return false, fmt.Errorf("media host returned %d", resp.StatusCode)
	default:
		return true, fmt.Errorf("media host returned unexpected status %d", resp.StatusCode)
	}

	if resp.ContentLength > 0 {
		sess.SetTotalBytes(resp.ContentLength)
	} else if ref.ApproximateByteSize > 0 {
		sess.SetTotalBytes(ref.ApproximateByteSize)
	}
	sink.WriteUpstreamHeaders(resp.StatusCode, resp.Header)

	if err := r.copyBody(ctx, sess, resp.Body, sink); err != nil {
		if errors.Is(err, domain.ErrCancelledByConsumer) {
			return true, err
		}
		if sess.BytesTransferred() > 0 {
			return true, err
		}
		return false, err
	}

	r.complete(sess)
	return true, nil
}

func (r *Relay) copyBody(ctx context.Context, sess *domain.DownloadSession, body io.Reader, sink ResponseSink) error {
	buf := make([]byte, r.cfg.ChunkSize)
	lastPublish := time.Now()

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := sink.Write(buf[:n]); writeErr != nil {
				return r.consumerGone(sess, writeErr)
			}
			sess.AddBytes(int64(n))

			if time.Since(lastPublish) >= r.cfg.ProgressInterval {
				r.publishProgress(sess)
				lastPublish = time.Now()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return r.consumerGone(sess, ctx.Err())
			}
			return fmt.Errorf("read media body: %w", readErr)
		}
	}
}

// consumerGone handles the consumer closing its end mid-stream. That is a
// normal event, not a session failure: the session keeps its state so a
// follow-up request can stream again.
func (r *Relay) consumerGone(sess *domain.DownloadSession, cause error) error {
	r.log.Info("consumer disconnected",
		zap.String("session_id", sess.ID),
		zap.Int64("bytes_transferred", sess.BytesTransferred()),
		zap.NamedError("cause", cause))
	return domain.ErrCancelledByConsumer
}

func (r *Relay) complete(sess *domain.DownloadSession) {
	if err := sess.MarkCompleted(); err != nil {
		r.log.Warn("complete transition rejected", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	r.publishProgress(sess)
	r.publishStatus(sess, "")
	if r.archiver != nil {
		r.archiver.Record(sess.Snapshot())
	}
	r.log.Info("session completed",
		zap.String("session_id", sess.ID),
		zap.Int64("bytes_transferred", sess.BytesTransferred()))
}

func (r *Relay) fail(sess *domain.DownloadSession, reason string) {
	if err := sess.MarkFailed(reason); err != nil {
		r.log.Warn("fail transition rejected", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	r.publishStatus(sess, reason)
	if r.archiver != nil {
		r.archiver.Record(sess.Snapshot())
	}
	r.log.Error("session failed",
		zap.String("session_id", sess.ID),
		zap.String("reason", reason))
}

func (r *Relay) backoff(retry int) time.Duration {
	d := r.cfg.BackoffBase << (retry - 1)
	if d > r.cfg.BackoffCap {
		d = r.cfg.BackoffCap
	}
	return d
}

func (r *Relay) publishStatus(sess *domain.DownloadSession, errDetail string) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(domain.EventDownloadStatus, domain.ProgressEvent{
		SessionID:   sess.ID,
		Status:      sess.State(),
		ErrorDetail: errDetail,
	})
}

func (r *Relay) publishProgress(sess *domain.DownloadSession) {
	if r.publisher == nil {
		return
	}
	event := domain.ProgressEvent{
		SessionID:        sess.ID,
		Status:           sess.State(),
		BytesTransferred: sess.BytesTransferred(),
	}

	snap := sess.Snapshot()
	event.TotalBytes = snap.TotalBytes

	if started := sess.StartedAt(); !started.IsZero() {
		elapsed := time.Since(started).Seconds()
		event.ElapsedSeconds = elapsed
		if elapsed > 0 {
			event.ThroughputBPS = float64(event.BytesTransferred) / elapsed
		}
	}
	if event.TotalBytes > 0 {
		event.Percentage = float64(event.BytesTransferred) / float64(event.TotalBytes) * 100
		if event.ThroughputBPS > 0 {
			event.ETASeconds = float64(event.TotalBytes-event.BytesTransferred) / event.ThroughputBPS
		}
	}
	r.publisher.Publish(domain.EventDownloadProgress, event)
}
