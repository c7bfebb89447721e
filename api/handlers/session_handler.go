package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vidrelay/vidrelay/internal/domain"
	"github.com/vidrelay/vidrelay/internal/infrastructure"
	"github.com/vidrelay/vidrelay/internal/registry"
)

// SessionArchive is the slice of the archive the API needs. Nil when
// archiving is disabled.
type SessionArchive interface {
	Recent(limit int) ([]infrastructure.SessionRecord, error)
	Stats() (*infrastructure.ArchiveStats, error)
}

// SessionHandler handles extraction and session lifecycle requests
type SessionHandler struct {
	extractor domain.Extractor
	registry  *registry.Registry
	archive   SessionArchive
	logger    *zap.Logger
}

func NewSessionHandler(extractor domain.Extractor, reg *registry.Registry, archive SessionArchive, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		extractor: extractor,
		registry:  reg,
		archive:   archive,
		logger:    logger,
	}
}

// ExtractRequest is the body for extract and session-create requests
type ExtractRequest struct {
	URL string `json:"url" binding:"required"`
}

// Extract handles POST /api/v1/extract. It resolves metadata without
// creating a session; the returned direct URL is already going stale and is
// informational only.
func (h *SessionHandler) Extract(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, err := h.extractor.ExtractDirect(c.Request.Context(), req.URL)
	if err != nil {
		h.respondExtractionError(c, req.URL, err)
		return
	}

	c.JSON(http.StatusOK, ref)
}

// CreateSession handles POST /api/v1/sessions. Extraction runs as a
// pre-flight so the caller learns immediately whether the video is
// reachable; the stream endpoint re-extracts later regardless.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, err := h.extractor.ExtractDirect(c.Request.Context(), req.URL)
	if err != nil {
		h.respondExtractionError(c, req.URL, err)
		return
	}

	sess := h.registry.Create(ref)
	h.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("platform", string(sess.Platform)),
		zap.String("source_url", sess.SourceURL))

	c.JSON(http.StatusCreated, sess.Snapshot())
}

// GetSession handles GET /api/v1/sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// ListSessions handles GET /api/v1/sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.List())
}

// ClearSessions handles POST /api/v1/sessions/clear. Only terminal sessions
// are removed; anything ready or streaming stays.
func (h *SessionHandler) ClearSessions(c *gin.Context) {
	removed := h.registry.Sweep()
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// History handles GET /api/v1/sessions/history
func (h *SessionHandler) History(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusOK, []infrastructure.SessionRecord{})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.archive.Recent(limit)
	if err != nil {
		h.logger.Error("failed to read session history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

// Stats handles GET /api/v1/sessions/stats
func (h *SessionHandler) Stats(c *gin.Context) {
	out := gin.H{
		"sessions": h.registry.Len(),
		"active":   h.registry.CountActive(),
	}

	if h.archive != nil {
		stats, err := h.archive.Stats()
		if err != nil {
			h.logger.Error("failed to read archive stats", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out["archive"] = stats
	}

	c.JSON(http.StatusOK, out)
}

// respondExtractionError maps extraction failures to status codes. Clients
// get the short message; the attempt-by-attempt detail goes to the log.
func (h *SessionHandler) respondExtractionError(c *gin.Context, url string, err error) {
	if errors.Is(err, domain.ErrUnsupportedPlatform) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var xerr *domain.ExtractionFailedError
	if errors.As(err, &xerr) {
		h.logger.Warn("extraction failed",
			zap.String("url", url),
			zap.String("platform", string(xerr.Platform)),
			zap.String("detail", xerr.Detail()))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": xerr.Error()})
		return
	}

	h.logger.Error("extraction error", zap.String("url", url), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
