package shortserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/anatolykoptev/go_shorts/internal/engine"
	"github.com/anatolykoptev/go_shorts/internal/pipeline"
)

const maxBodyBytes = 1 << 20

// API serves the REST endpoints used by the browser extension.
type API struct {
	coord Coordinator
	log   *slog.Logger
}

func NewAPI(coord Coordinator, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{coord: coord, log: log.With("component", "http")}
}

// Router builds the chi router with middleware and all routes mounted.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(allowAllOrigins)
	a.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the routes on r.
func (a *API) RegisterHTTP(r chi.Router) {
	r.Get("/", a.handleRoot)
	r.Post("/send_urls", a.handleSendURLs)
	r.Get("/get-info", a.handleGetInfo)
	r.Get("/stream", a.handleStream)
	r.Get("/metrics", a.handleMetrics)
}

// allowAllOrigins answers preflights and lets any origin read responses.
func allowAllOrigins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests writes one structured line per request once it completes.
func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			a.log.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("elapsed", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Short Detective API"})
}

func (a *API) handleSendURLs(w http.ResponseWriter, r *http.Request) {
	var urls []string
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&urls); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON array of URLs")
		return
	}
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, "no urls")
		return
	}
	// Runs outlive the request; only the cache lookups use its context.
	b := a.coord.Submit(context.WithoutCancel(r.Context()), urls)
	writeJSON(w, http.StatusAccepted, b)
}

func (a *API) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	u := strings.TrimSpace(r.URL.Query().Get("url"))
	if u == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	writeJSON(w, http.StatusOK, a.coord.Query(r.Context(), u))
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%sin_flight %d\n", engine.FormatMetrics(), a.coord.InFlight())
}

// handleStream writes the verdict chunks as they are produced. Without a
// live run it falls back to the cached verdict as a single chunk.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	u := strings.TrimSpace(r.URL.Query().Get("url"))
	if u == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	log, live := a.coord.Progress(u)
	if !live {
		res := a.coord.Query(r.Context(), u)
		if res.Status != pipeline.QueryReady {
			writeError(w, http.StatusNotFound, "no analysis for "+res.VideoID)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, res.Text)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		a.log.Debug("stream: write deadline not cleared", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	from := 0
	for {
		chunks, closed, err := log.Next(ctx, from)
		if err != nil {
			return
		}
		for _, c := range chunks {
			if _, err := io.WriteString(w, c); err != nil {
				return
			}
		}
		from += len(chunks)
		_ = rc.Flush()
		if closed {
			break
		}
	}

	// A run that failed before synthesis leaves no chunks to explain itself.
	if _, _, runErr := log.Snapshot(); runErr != nil && from == 0 {
		_, _ = fmt.Fprintf(w, "[analysis failed: %v]", runErr)
		_ = rc.Flush()
	}
}
