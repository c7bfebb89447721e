package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vidrelay/vidrelay/internal/domain"
	"github.com/vidrelay/vidrelay/internal/registry"
	"github.com/vidrelay/vidrelay/internal/relay"
)

// StreamHandler relays media bytes for a registered session
type StreamHandler struct {
	registry *registry.Registry
	relay    *relay.Relay
	logger   *zap.Logger
}

func NewStreamHandler(reg *registry.Registry, rly *relay.Relay, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		registry: reg,
		relay:    rly,
		logger:   logger,
	}
}

// Stream handles GET /api/v1/stream/:id. The response body is the media
// itself; headers mirror the upstream response plus the attachment
// disposition, and the consumer's Range header is forwarded upstream.
func (h *StreamHandler) Stream(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	sink := newResponseSink(c, sess.Filename)

	err = h.relay.Stream(c.Request.Context(), sess, c.GetHeader("Range"), sink)
	switch {
	case err == nil:
		return
	case errors.Is(err, domain.ErrCancelledByConsumer):
		// the consumer hung up; nothing left to answer
		return
	default:
		if sink.headersWritten() {
			// body already started, the truncation is the signal
			h.logger.Warn("stream aborted mid-body",
				zap.String("session_id", sess.ID),
				zap.Error(err))
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// responseSink adapts the gin response writer to the relay's sink. Headers
// from upstream are copied once, augmented with the attachment metadata the
// consumer needs, then the body is flushed chunk by chunk.
type responseSink struct {
	c        *gin.Context
	filename string
	once     sync.Once
	wrote    bool
	mu       sync.Mutex
}

func newResponseSink(c *gin.Context, filename string) *responseSink {
	return &responseSink{c: c, filename: filename}
}

func (s *responseSink) WriteUpstreamHeaders(statusCode int, header http.Header) {
	s.once.Do(func() {
		w := s.c.Writer

		contentType := header.Get("Content-Type")
		if contentType == "" {
			contentType = "video/mp4"
		}
		w.Header().Set("Content-Type", contentType)

		for _, k := range []string{"Content-Length", "Content-Range"} {
			if v := header.Get(k); v != "" {
				w.Header().Set(k, v)
			}
		}

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.filename))
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(statusCode)

		s.mu.Lock()
		s.wrote = true
		s.mu.Unlock()
	})
}

func (s *responseSink) Write(p []byte) (int, error) {
	n, err := s.c.Writer.Write(p)
	if err == nil {
		s.c.Writer.Flush()
	}
	return n, err
}

func (s *responseSink) headersWritten() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrote
}
