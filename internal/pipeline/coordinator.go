package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

const (
	DefaultMaxConcurrentVideos = 16
	defaultProgressRetention   = 10 * time.Minute
	defaultFailureRetention    = time.Hour
)

// Policy decides what happens to URLs whose verdict is already cached.
type Policy string

const (
	// PolicySkip serves cached verdicts and never rewrites them.
	PolicySkip Policy = "skip"
	// PolicyRefresh re-analyzes and overwrites.
	PolicyRefresh Policy = "refresh"
)

// FailureKind classifies why a video or branch did not produce a result.
type FailureKind string

const (
	KindAdapterTimeout FailureKind = "adapter_timeout"
	KindAdapterFailure FailureKind = "adapter_failure"
	KindAcquisition    FailureKind = "acquisition_failure"
	KindSynthesis      FailureKind = "synthesis_failure"
	KindNoEvidence     FailureKind = "no_evidence"
	KindCacheWrite     FailureKind = "cache_write_failure"
)

// Failure is the recorded end of a run that wrote no verdict.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
	At     time.Time   `json:"at"`
}

// VideoError reports a failed video run.
type VideoError struct {
	VideoID string
	Kind    FailureKind
	Err     error
}

func (e *VideoError) Error() string {
	return fmt.Sprintf("video %s: %s: %v", e.VideoID, e.Kind, e.Err)
}

func (e *VideoError) Unwrap() error { return e.Err }

// Disposition is what Submit did with one URL.
type Disposition string

const (
	DispositionQueued    Disposition = "queued"
	DispositionCached    Disposition = "cached"
	DispositionDuplicate Disposition = "duplicate"
	DispositionInFlight  Disposition = "in_flight"
	DispositionInvalid   Disposition = "invalid"
)

// BatchItem is the receipt for one submitted URL.
type BatchItem struct {
	URL         string      `json:"url"`
	VideoID     string      `json:"video_id"`
	Disposition Disposition `json:"disposition"`
}

// Batch is the receipt for one Submit call.
type Batch struct {
	ID    string      `json:"batch_id"`
	Items []BatchItem `json:"items"`

	runs []*run
}

// Wait blocks until every run this batch started or joined has ended.
func (b *Batch) Wait(ctx context.Context) error {
	for _, r := range b.runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Errors returns the failures of the runs this batch started or joined.
// Call after Wait.
func (b *Batch) Errors() []*VideoError {
	var out []*VideoError
	for _, r := range b.runs {
		select {
		case <-r.done:
			if r.err != nil {
				out = append(out, r.err)
			}
		default:
		}
	}
	return out
}

// QueryStatus is the read-side state of a URL.
type QueryStatus string

const (
	QueryReady    QueryStatus = "ready"
	QueryNotFound QueryStatus = "not_found"
	QueryFailed   QueryStatus = "failed"
)

// QueryResult answers Query. Text is set only when Status is ready.
type QueryResult struct {
	Status  QueryStatus `json:"status"`
	VideoID string      `json:"video_id"`
	Text    string      `json:"message,omitempty"`
	Failure *Failure    `json:"failure,omitempty"`
}

// CoordinatorConfig is fixed at construction.
type CoordinatorConfig struct {
	MaxConcurrentVideos int
	Timeouts            Timeouts
	Policy              Policy
	ProgressRetention   time.Duration
	FailureRetention    time.Duration
	Language            string
	FieldLimit          int
}

type run struct {
	req  engine.VideoRequest
	log  *ChunkLog
	done chan struct{}
	err  *VideoError // set before done closes

	// skipped marks a run that found the verdict cached once it got a slot.
	skipped bool
}

type progressEntry struct {
	log   *ChunkLog
	timer *time.Timer
}

type failureEntry struct {
	Failure
	timer *time.Timer
}

// Coordinator accepts URL batches, filters them against the cache and
// in-flight work, and runs each remaining video under a bounded pool.
type Coordinator struct {
	cfg   CoordinatorConfig
	ad    Adapters
	cache Cache
	group *TaskGroup
	synth *Synthesizer
	sem   *semaphore.Weighted
	log   *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*run
	failures map[string]*failureEntry
	progress map[string]*progressEntry
}

// NewCoordinator validates the configuration. Errors here are startup errors.
func NewCoordinator(cfg CoordinatorConfig, ad Adapters, cache Cache, log *slog.Logger) (*Coordinator, error) {
	switch {
	case cfg.MaxConcurrentVideos < 0:
		return nil, fmt.Errorf("max concurrent videos must be positive, got %d", cfg.MaxConcurrentVideos)
	case cache == nil:
		return nil, errors.New("verdict cache is required")
	case ad.Source == nil:
		return nil, errors.New("source acquirer is required")
	case ad.Streamer == nil:
		return nil, errors.New("synthesis streamer is required")
	}
	if cfg.MaxConcurrentVideos == 0 {
		cfg.MaxConcurrentVideos = DefaultMaxConcurrentVideos
	}
	switch cfg.Policy {
	case "":
		cfg.Policy = PolicySkip
	case PolicySkip, PolicyRefresh:
	default:
		return nil, fmt.Errorf("unknown cache policy %q", cfg.Policy)
	}
	if cfg.ProgressRetention <= 0 {
		cfg.ProgressRetention = defaultProgressRetention
	}
	if cfg.FailureRetention <= 0 {
		cfg.FailureRetention = defaultFailureRetention
	}
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	if log == nil {
		log = slog.Default()
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:      cfg,
		ad:       ad,
		cache:    cache,
		group:    NewTaskGroup(ad, cfg.Timeouts, cfg.Language, log),
		synth:    NewSynthesizer(ad.Streamer, cfg.Timeouts.Synthesis, cfg.FieldLimit, log),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentVideos)),
		log:      log.With("component", "coordinator"),
		baseCtx:  ctx,
		stop:     stop,
		inflight: make(map[string]*run),
		failures: make(map[string]*failureEntry),
		progress: make(map[string]*progressEntry),
	}, nil
}

// Submit partitions urls and starts a run for each new video. It returns
// without waiting for any analysis; ctx bounds only the cache lookups.
func (c *Coordinator) Submit(ctx context.Context, urls []string) *Batch {
	b := &Batch{ID: uuid.NewString(), Items: make([]BatchItem, 0, len(urls))}
	seen := make(map[string]bool, len(urls))
	engine.IncrVideosSubmitted(len(urls))

	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			b.Items = append(b.Items, BatchItem{URL: raw, Disposition: DispositionInvalid})
			continue
		}
		req := engine.NewVideoRequest(raw)
		item := BatchItem{URL: raw, VideoID: req.VideoID}

		switch {
		case seen[req.VideoID]:
			item.Disposition = DispositionDuplicate
		case c.cfg.Policy == PolicySkip && c.cached(ctx, req.VideoID):
			item.Disposition = DispositionCached
			engine.IncrVideosSkipped()
		default:
			r, started := c.start(req)
			b.runs = append(b.runs, r)
			item.Disposition = DispositionInFlight
			if started {
				item.Disposition = DispositionQueued
			}
		}
		seen[req.VideoID] = true
		b.Items = append(b.Items, item)
	}

	c.log.Info("batch submitted", slog.String("batch_id", b.ID), slog.Int("urls", len(urls)), slog.Int("runs", len(b.runs)))
	return b
}

func (c *Coordinator) cached(ctx context.Context, videoID string) bool {
	text, ok, err := c.cache.Get(ctx, videoID)
	if err != nil {
		c.log.Warn("cache lookup failed", slog.String("video_id", videoID), slog.Any("error", err))
		return false
	}
	return ok && text != ""
}

// start registers a run for req, or returns the one already in flight.
func (c *Coordinator) start(req engine.VideoRequest) (*run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.inflight[req.VideoID]; ok {
		return r, false
	}
	r := &run{req: req, log: NewChunkLog(), done: make(chan struct{})}
	c.inflight[req.VideoID] = r
	if f, ok := c.failures[req.VideoID]; ok {
		f.timer.Stop()
		delete(c.failures, req.VideoID)
	}
	if old, ok := c.progress[req.VideoID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	c.progress[req.VideoID] = &progressEntry{log: r.log}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.finish(r, c.execute(c.baseCtx, r))
	}()
	return r, true
}

// execute runs one video from acquisition to cache write.
func (c *Coordinator) execute(ctx context.Context, r *run) *VideoError {
	id := r.req.VideoID
	fail := func(kind FailureKind, err error) *VideoError {
		return &VideoError{VideoID: id, Kind: kind, Err: err}
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fail(KindAcquisition, fmt.Errorf("waiting for slot: %w", err))
	}
	defer c.sem.Release(1)

	// Another writer may have stored the verdict while this run was queued.
	if c.cfg.Policy == PolicySkip && c.cached(ctx, id) {
		r.skipped = true
		c.log.Info("verdict already cached", slog.String("video_id", id))
		return nil
	}
	defer engine.TaskGroupStarted()()

	start := time.Now()
	media, err := runStep(ctx, c.cfg.Timeouts.Acquire, func(ctx context.Context) (engine.MediaHandle, error) {
		return c.ad.Source.Acquire(ctx, r.req)
	})
	if errors.Is(err, errStepTimeout) {
		err = fmt.Errorf("timed out after %s", c.cfg.Timeouts.Acquire)
	}
	if err != nil {
		return fail(KindAcquisition, err)
	}

	bundle := c.group.Analyze(ctx, r.req, media)
	if !bundle.HasEvidence() {
		return fail(KindNoEvidence, errors.New("every analysis field is unavailable"))
	}

	syn := c.synth.Synthesize(ctx, bundle, r.log)
	if syn.Err != nil {
		return fail(KindSynthesis, syn.Err)
	}

	mode := engine.PutCreateOnly
	if c.cfg.Policy == PolicyRefresh {
		mode = engine.PutReplace
	}
	if _, err := c.cache.Put(ctx, id, syn.FinalText, mode); err != nil {
		return fail(KindCacheWrite, err)
	}
	c.log.Info("video analyzed", slog.String("video_id", id), slog.Duration("elapsed", time.Since(start)),
		slog.Int("chunks", len(syn.Chunks)))
	return nil
}

func (c *Coordinator) finish(r *run, verr *VideoError) {
	id := r.req.VideoID
	r.err = verr
	switch {
	case verr != nil:
		engine.IncrVideosFailed()
		c.log.Warn("video failed", slog.String("video_id", id), slog.String("kind", string(verr.Kind)), slog.Any("error", verr.Err))
		r.log.Close(verr)
	case r.skipped:
		engine.IncrVideosSkipped()
		r.log.Close(nil)
	default:
		engine.IncrVideosCompleted()
		r.log.Close(nil)
	}

	c.mu.Lock()
	if verr != nil {
		f := &failureEntry{Failure: Failure{Kind: verr.Kind, Reason: verr.Err.Error(), At: time.Now()}}
		f.timer = time.AfterFunc(c.cfg.FailureRetention, func() { c.dropFailure(id, f) })
		c.failures[id] = f
	}
	delete(c.inflight, id)
	if p, ok := c.progress[id]; ok && p.log == r.log {
		if r.skipped {
			// Nothing streamed; readers fall back to the cache.
			delete(c.progress, id)
		} else {
			p.timer = time.AfterFunc(c.cfg.ProgressRetention, func() { c.dropProgress(id, r.log) })
		}
	}
	c.mu.Unlock()
	close(r.done)
}

func (c *Coordinator) dropProgress(id string, log *ChunkLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.progress[id]; ok && p.log == log {
		delete(c.progress, id)
	}
}

func (c *Coordinator) dropFailure(id string, f *failureEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.failures[id]; ok && cur == f {
		delete(c.failures, id)
	}
}

// Query reports the state of rawURL without waiting on in-flight work.
// A video that is still running reads as not_found.
func (c *Coordinator) Query(ctx context.Context, rawURL string) QueryResult {
	id := engine.VideoID(rawURL)
	res := QueryResult{Status: QueryNotFound, VideoID: id}

	text, ok, err := c.cache.Get(ctx, id)
	if err != nil {
		c.log.Warn("cache read failed", slog.String("video_id", id), slog.Any("error", err))
	}
	if ok && text != "" {
		res.Status = QueryReady
		res.Text = text
		return res
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, running := c.inflight[id]; running {
		return res
	}
	if f, failed := c.failures[id]; failed {
		res.Status = QueryFailed
		failure := f.Failure
		res.Failure = &failure
	}
	return res
}

// Progress returns the live chunk log for rawURL while it runs and for the
// retention window after it ends.
func (c *Coordinator) Progress(rawURL string) (*ChunkLog, bool) {
	id := engine.VideoID(rawURL)
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.progress[id]
	if !ok {
		return nil, false
	}
	return p.log, true
}

// InFlight is the number of videos currently registered as running.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Close cancels running videos and waits for them to record their outcome.
func (c *Coordinator) Close() {
	c.stop()
	c.wg.Wait()
	c.mu.Lock()
	for _, p := range c.progress {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	for _, f := range c.failures {
		f.timer.Stop()
	}
	c.mu.Unlock()
}
