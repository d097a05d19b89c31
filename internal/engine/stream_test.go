package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatStreamRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.True(t, req.Stream)
		assert.Equal(t, "system", req.Messages[0].Role)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
			w.(http.Flusher).Flush()
		}
	}))
}

func delta(s string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, s)
}

func TestStreamCompleteDeltas(t *testing.T) {
	srv := sseServer(t, delta("This video "), `{"choices":[{"delta":{}}]}`, delta("appears fine."), "[DONE]")
	defer srv.Close()

	s := NewChatStreamer(srv.URL+"/v1/", "sk-test", "gpt-test", srv.Client())
	var got []string
	text, err := s.StreamComplete(context.Background(), "sys", "user", func(d string) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"This video ", "appears fine."}, got)
	require.Equal(t, "This video appears fine.", text)
}

func TestStreamCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewChatStreamer(srv.URL, "sk", "m", srv.Client())
	_, err := s.StreamComplete(context.Background(), "", "p", func(string) error { return nil })
	require.ErrorContains(t, err, "status 401")
}

func TestStreamCompleteErrorEvent(t *testing.T) {
	srv := sseServer(t, delta("partial"), `{"error":{"message":"overloaded"}}`)
	defer srv.Close()

	s := NewChatStreamer(srv.URL+"/v1", "sk-test", "m", srv.Client())
	text, err := s.StreamComplete(context.Background(), "sys", "p", func(string) error { return nil })
	require.ErrorContains(t, err, "overloaded")
	require.Equal(t, "partial", text)
}

func TestStreamCompleteSinkAbort(t *testing.T) {
	srv := sseServer(t, delta("a"), delta("b"), "[DONE]")
	defer srv.Close()

	stop := errors.New("stop")
	s := NewChatStreamer(srv.URL+"/v1", "sk-test", "m", srv.Client())
	_, err := s.StreamComplete(context.Background(), "sys", "p", func(string) error { return stop })
	require.ErrorIs(t, err, stop)
}
