//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vidrelay/vidrelay/api"
	"github.com/vidrelay/vidrelay/api/handlers"
	"github.com/vidrelay/vidrelay/internal/domain"
	"github.com/vidrelay/vidrelay/internal/infrastructure"
	"github.com/vidrelay/vidrelay/internal/registry"
	"github.com/vidrelay/vidrelay/internal/relay"
)

// stubExtractor stands in for the strategy chains, which have their own
// tests; everything downstream of extraction is real.
type stubExtractor struct {
	directURL string
	err       error
}

func (s *stubExtractor) ExtractDirect(ctx context.Context, url string) (*domain.MediaReference, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.MediaReference{
		SourceURL:         url,
		Platform:          domain.PlatformTikTok,
		DirectURL:         s.directURL,
		Title:             "integration clip",
		SuggestedFilename: "TikTok_integration-clip.mp4",
	}, nil
}

func setupTestServer(t *testing.T, ext domain.Extractor) *httptest.Server {
	t.Helper()

	log := zap.NewNop()
	archive, err := infrastructure.NewSQLiteSessionArchive(
		filepath.Join(t.TempDir(), "sessions.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	hub := handlers.NewProgressHub(log)

	cfg := domain.DefaultConfig().Relay
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffCap = 2 * time.Millisecond
	cfg.ProgressInterval = 10 * time.Millisecond

	reg := registry.New()
	rly := relay.New(ext, cfg, hub, archive, log)

	server := httptest.NewServer(api.SetupRouter(ext, reg, rly, hub, archive, log))
	t.Cleanup(server.Close)
	return server
}

func createSession(t *testing.T, server *httptest.Server, url string) map[string]interface{} {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"url": url})
	resp, err := http.Post(server.URL+"/api/v1/sessions", "application/json", bytes.NewBuffer(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	return session
}

func TestFullDownloadFlow(t *testing.T) {
	payload := bytes.Repeat([]byte("integration"), 8192)
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.Write(payload)
	}))
	defer cdn.Close()

	server := setupTestServer(t, &stubExtractor{directURL: cdn.URL + "/v.mp4"})

	session := createSession(t, server, "https://www.tiktok.com/@u/video/1")
	id := session["id"].(string)
	assert.Equal(t, "ready", session["state"])

	// subscribe before streaming so progress events are observable
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/progress"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	resp, err := http.Get(server.URL + "/api/v1/stream/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="TikTok_integration-clip.mp4"`, resp.Header.Get("Content-Disposition"))

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, body.Bytes())

	// at least one status frame must arrive on the socket
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"event"`)

	// session reached completed and the archive recorded it
	getResp, err := http.Get(server.URL + "/api/v1/sessions/" + id)
	require.NoError(t, err)
	defer getResp.Body.Close()
	var snap map[string]interface{}
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&snap))
	assert.Equal(t, "completed", snap["state"])

	histResp, err := http.Get(server.URL + "/api/v1/sessions/history")
	require.NoError(t, err)
	defer histResp.Body.Close()
	var records []map[string]interface{}
	require.NoError(t, json.NewDecoder(histResp.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0]["ID"])
}

func TestStreamFailureArchivesFailedSession(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer cdn.Close()

	server := setupTestServer(t, &stubExtractor{directURL: cdn.URL})

	session := createSession(t, server, "https://www.tiktok.com/@u/video/2")
	id := session["id"].(string)

	resp, err := http.Get(server.URL + "/api/v1/stream/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	histResp, err := http.Get(server.URL + "/api/v1/sessions/history")
	require.NoError(t, err)
	defer histResp.Body.Close()
	var records []map[string]interface{}
	require.NoError(t, json.NewDecoder(histResp.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "failed", records[0]["State"])
}

func TestClearRemovesOnlyFinishedSessions(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bytes"))
	}))
	defer cdn.Close()

	server := setupTestServer(t, &stubExtractor{directURL: cdn.URL})

	done := createSession(t, server, "https://www.tiktok.com/@u/video/3")
	kept := createSession(t, server, "https://www.tiktok.com/@u/video/4")

	resp, err := http.Get(server.URL + "/api/v1/stream/" + done["id"].(string))
	require.NoError(t, err)
	resp.Body.Close()

	clearResp, err := http.Post(server.URL+"/api/v1/sessions/clear", "application/json", nil)
	require.NoError(t, err)
	defer clearResp.Body.Close()

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(clearResp.Body).Decode(&result))
	assert.EqualValues(t, 1, result["removed"])

	getResp, err := http.Get(server.URL + "/api/v1/sessions/" + kept["id"].(string))
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
}
