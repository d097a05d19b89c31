package shortserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_shorts/internal/pipeline"
)

const shortURL = "https://www.youtube.com/shorts/dQw4w9WgXcQ"

func newTestServer(t *testing.T, coord *stubCoord) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewAPI(coord, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRoot(t *testing.T) {
	srv := newTestServer(t, newStubCoord())
	status, body := get(t, srv, "/")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"message":"Short Detective API"}`, body)
}

func TestRequestLogging(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"root", "/", http.StatusOK},
		{"missing url", "/get-info", http.StatusBadRequest},
		{"unknown route", "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			api := NewAPI(newStubCoord(), slog.New(slog.NewTextHandler(&buf, nil)))
			rec := httptest.NewRecorder()
			api.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.status, rec.Code)

			line := buf.String()
			require.Contains(t, line, "msg=request")
			require.Contains(t, line, "component=http")
			require.Contains(t, line, "method=GET")
			require.Contains(t, line, "path="+tt.path)
			require.Contains(t, line, "status="+strconv.Itoa(tt.status))
			require.Contains(t, line, "request_id=")
			require.Equal(t, 1, strings.Count(line, "\n"))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, newStubCoord())
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/send_urls", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://www.youtube.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestSendURLs(t *testing.T) {
	coord := newStubCoord()
	srv := newTestServer(t, coord)

	resp, err := http.Post(srv.URL+"/send_urls", "application/json",
		strings.NewReader(`["`+shortURL+`","https://youtu.be/abcdefghijk"]`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var b pipeline.Batch
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&b))
	require.Equal(t, "batch-1", b.ID)
	require.Len(t, b.Items, 2)
	require.Equal(t, "dQw4w9WgXcQ", b.Items[0].VideoID)
	require.Equal(t, pipeline.DispositionQueued, b.Items[1].Disposition)
	require.Len(t, coord.submitted, 1)
}

func TestSendURLsRejectsBadBody(t *testing.T) {
	srv := newTestServer(t, newStubCoord())
	for _, body := range []string{`{"url":"x"}`, `[]`, `not json`} {
		resp, err := http.Post(srv.URL+"/send_urls", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestGetInfo(t *testing.T) {
	coord := newStubCoord()
	coord.ready("dQw4w9WgXcQ", "Verdict: trustworthy")
	srv := newTestServer(t, coord)

	status, body := get(t, srv, "/get-info?url="+url.QueryEscape(shortURL))
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"status":"ready","video_id":"dQw4w9WgXcQ","message":"Verdict: trustworthy"}`, body)

	status, body = get(t, srv, "/get-info?url="+url.QueryEscape("https://youtu.be/abcdefghijk"))
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"status":"not_found","video_id":"abcdefghijk"}`, body)

	status, _ = get(t, srv, "/get-info")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestStreamLive(t *testing.T) {
	coord := newStubCoord()
	log := coord.live("dQw4w9WgXcQ")
	log.Append("Verdict: ")
	srv := newTestServer(t, coord)

	go func() {
		time.Sleep(20 * time.Millisecond)
		log.Append("mostly ")
		log.Append("trustworthy")
		log.Close(nil)
	}()

	status, body := get(t, srv, "/stream?url="+url.QueryEscape(shortURL))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Verdict: mostly trustworthy", body)
}

func TestStreamFailedBeforeSynthesis(t *testing.T) {
	coord := newStubCoord()
	coord.live("dQw4w9WgXcQ").Close(errors.New("video unavailable"))
	srv := newTestServer(t, coord)

	_, body := get(t, srv, "/stream?url="+url.QueryEscape(shortURL))
	require.Equal(t, "[analysis failed: video unavailable]", body)
}

func TestStreamCachedAndMissing(t *testing.T) {
	coord := newStubCoord()
	coord.ready("dQw4w9WgXcQ", "cached verdict")
	srv := newTestServer(t, coord)

	status, body := get(t, srv, "/stream?url="+url.QueryEscape(shortURL))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "cached verdict", body)

	status, _ = get(t, srv, "/stream?url="+url.QueryEscape("https://youtu.be/abcdefghijk"))
	require.Equal(t, http.StatusNotFound, status)
}

func TestMetrics(t *testing.T) {
	coord := newStubCoord()
	coord.inflight = 2
	srv := newTestServer(t, coord)

	status, body := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "videos_submitted ")
	require.Contains(t, body, "in_flight 2\n")
}
