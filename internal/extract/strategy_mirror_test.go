package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenFormMirror(t *testing.T) {
	var gotToken, gotVideoURL string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/en":
			fmt.Fprint(w, `<html><script>window.config = { s_tt: 'tok-12345' };</script></html>`)
		case r.Method == http.MethodPost:
			require.NoError(t, r.ParseForm())
			gotToken = r.PostForm.Get("tt")
			gotVideoURL = r.PostForm.Get("id")
			fmt.Fprint(w, `<div class="result"><a href="https://dl.mirror-cdn.example.com/v.mp4?tk=z" class="download">Without watermark</a></div>`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := NewTokenFormMirrorStrategy(srv.Client(), srv.URL)
	ref, err := s.Attempt(context.Background(), "https://www.tiktok.com/@user/video/1")

	require.NoError(t, err)
	assert.Equal(t, "tok-12345", gotToken)
	assert.Equal(t, "https://www.tiktok.com/@user/video/1", gotVideoURL)
	assert.Equal(t, "https://dl.mirror-cdn.example.com/v.mp4?tk=z", ref.DirectURL)
	assert.NotEmpty(t, ref.RequestHeaders["User-Agent"])
}

func TestTokenFormMirrorNoToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>maintenance</body></html>`)
	}))
	defer srv.Close()

	s := NewTokenFormMirrorStrategy(srv.Client(), srv.URL)
	_, err := s.Attempt(context.Background(), "https://www.tiktok.com/@user/video/1")
	assert.Error(t, err)
}

func TestTokenFormMirrorNoDownloadLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `<script>s_tt = "tok"</script>`)
			return
		}
		// converter answered but only with links back to itself
		fmt.Fprintf(w, `<a href="http://%s/en">try again</a>`, r.Host)
	}))
	defer srv.Close()

	s := NewTokenFormMirrorStrategy(srv.Client(), srv.URL)
	_, err := s.Attempt(context.Background(), "https://www.tiktok.com/@user/video/1")
	assert.Error(t, err)
}

func TestJSONMirror(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://www.tiktok.com/@user/video/1", r.URL.Query().Get("url"))
		fmt.Fprint(w, `{"code":0,"data":{"play":"/video/media/play/1.mp4","hdplay":"https://cdn.mirror.example.com/hd/1.mp4","title":"a title","cover":"https://cdn.mirror.example.com/c.jpg","duration":21,"size":2048000,"author":{"unique_id":"someuser"}}}`)
	}))
	defer srv.Close()

	s := NewJSONMirrorStrategy(srv.Client(), srv.URL)
	ref, err := s.Attempt(context.Background(), "https://www.tiktok.com/@user/video/1")

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.mirror.example.com/hd/1.mp4", ref.DirectURL)
	assert.Equal(t, "a title", ref.Title)
	assert.Equal(t, "someuser", ref.UploaderID)
	assert.Equal(t, float64(21), ref.DurationSeconds)
	assert.Equal(t, int64(2048000), ref.ApproximateByteSize)
}

func TestJSONMirrorRelativePlayPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"data":{"play":"/video/media/play/1.mp4","title":"t"}}`)
	}))
	defer srv.Close()

	s := NewJSONMirrorStrategy(srv.Client(), srv.URL)
	ref, err := s.Attempt(context.Background(), "https://www.tiktok.com/@user/video/1")

	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/video/media/play/1.mp4", ref.DirectURL)
}

func TestJSONMirrorAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":-1,"msg":"Free Api Limit"}`)
	}))
	defer srv.Close()

	s := NewJSONMirrorStrategy(srv.Client(), srv.URL)
	_, err := s.Attempt(context.Background(), "https://www.tiktok.com/@user/video/1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Free Api Limit")
}
