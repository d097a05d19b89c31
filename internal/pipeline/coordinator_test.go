package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

const shortURL = "https://www.youtube.com/shorts/dQw4w9WgXcQ"

func newTestCoordinator(t *testing.T, cfg CoordinatorConfig, ad Adapters) (*Coordinator, *countingCache) {
	t.Helper()
	cache := newCountingCache(t)
	c, err := NewCoordinator(cfg, ad, cache, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, cache
}

func waitBatch(t *testing.T, b *Batch) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx))
}

func dispositions(b *Batch) []Disposition {
	out := make([]Disposition, len(b.Items))
	for i, it := range b.Items {
		out[i] = it.Disposition
	}
	return out
}

func TestNewCoordinatorValidation(t *testing.T) {
	cache := newCountingCache(t)
	tests := []struct {
		name  string
		cfg   CoordinatorConfig
		ad    Adapters
		cache Cache
	}{
		{"negative pool", CoordinatorConfig{MaxConcurrentVideos: -1}, okAdapters(), cache},
		{"no cache", CoordinatorConfig{}, okAdapters(), nil},
		{"no source", CoordinatorConfig{}, Adapters{Streamer: okStreamer()}, cache},
		{"no streamer", CoordinatorConfig{}, Adapters{Source: &fakeSource{}}, cache},
		{"bad policy", CoordinatorConfig{Policy: "sometimes"}, okAdapters(), cache},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCoordinator(tt.cfg, tt.ad, tt.cache, nil)
			require.Error(t, err)
		})
	}
}

func TestSubmitIdempotent(t *testing.T) {
	release := make(chan struct{})
	var streams atomic.Int32
	ad := okAdapters()
	src := ad.Source.(*fakeSource)
	ad.Streamer = streamFunc(func(_ context.Context, _, _ string, onDelta func(string) error) (string, error) {
		streams.Add(1)
		<-release
		return emit(onDelta, verdictDeltas...)
	})
	c, cache := newTestCoordinator(t, CoordinatorConfig{}, ad)
	ctx := context.Background()

	first := c.Submit(ctx, []string{shortURL})
	second := c.Submit(ctx, []string{"https://youtu.be/dQw4w9WgXcQ"})
	require.Equal(t, []Disposition{DispositionQueued}, dispositions(first))
	require.Equal(t, []Disposition{DispositionInFlight}, dispositions(second))
	require.Equal(t, QueryNotFound, c.Query(ctx, shortURL).Status)

	close(release)
	waitBatch(t, first)
	waitBatch(t, second)

	require.EqualValues(t, 1, src.calls.Load())
	require.EqualValues(t, 1, streams.Load())
	require.Equal(t, 1, cache.stores("dQw4w9WgXcQ"))

	before := c.Query(ctx, shortURL)
	require.Equal(t, QueryReady, before.Status)
	require.Equal(t, "This video appears mostly trustworthy.", before.Text)

	third := c.Submit(ctx, []string{shortURL})
	require.Equal(t, []Disposition{DispositionCached}, dispositions(third))
	waitBatch(t, third)
	require.EqualValues(t, 1, src.calls.Load())
	require.Equal(t, before, c.Query(ctx, shortURL))
}

func TestSubmitDuplicateInBatch(t *testing.T) {
	c, _ := newTestCoordinator(t, CoordinatorConfig{}, okAdapters())
	b := c.Submit(context.Background(), []string{
		shortURL,
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"  ",
		"https://www.tiktok.com/@x/video/7301234567890",
	})
	require.Equal(t, []Disposition{DispositionQueued, DispositionDuplicate, DispositionInvalid, DispositionQueued}, dispositions(b))
	require.NotEmpty(t, b.ID)
	waitBatch(t, b)
	require.Empty(t, b.Errors())
}

func TestPartialFailureStillProducesVerdict(t *testing.T) {
	ad := okAdapters()
	ad.Channel = channelFunc(func(context.Context, string) (engine.ChannelReport, error) {
		return engine.ChannelReport{}, errBoom
	})
	var prompt string
	ad.Streamer = streamFunc(func(_ context.Context, _, p string, onDelta func(string) error) (string, error) {
		prompt = p
		return emit(onDelta, verdictDeltas...)
	})
	c, _ := newTestCoordinator(t, CoordinatorConfig{}, ad)

	waitBatch(t, c.Submit(context.Background(), []string{shortURL}))
	res := c.Query(context.Background(), shortURL)
	require.Equal(t, QueryReady, res.Status)
	require.NotEmpty(t, res.Text)
	require.Contains(t, prompt, "analysis unavailable [failed: boom]")
}

func TestAcquisitionFailureIsolated(t *testing.T) {
	bad := "https://www.youtube.com/shorts/AAAAAAAAAAA"
	ad := okAdapters()
	ad.Source = &fakeSource{fn: func(_ context.Context, req engine.VideoRequest) (engine.MediaHandle, error) {
		if req.RawURL == bad {
			return engine.MediaHandle{}, fmt.Errorf("yt-dlp: %w", engine.ErrRestricted)
		}
		return engine.MediaHandle{VideoID: req.VideoID, Path: "/m.mp4"}, nil
	}}
	c, _ := newTestCoordinator(t, CoordinatorConfig{}, ad)
	ctx := context.Background()

	b := c.Submit(ctx, []string{bad, shortURL})
	waitBatch(t, b)

	require.Equal(t, QueryReady, c.Query(ctx, shortURL).Status)
	failed := c.Query(ctx, bad)
	require.Equal(t, QueryFailed, failed.Status)
	require.Empty(t, failed.Text)
	require.Equal(t, KindAcquisition, failed.Failure.Kind)
	require.Contains(t, failed.Failure.Reason, "restricted")

	errs := b.Errors()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], engine.ErrRestricted)
	require.Equal(t, "AAAAAAAAAAA", errs[0].VideoID)
}

func TestNoEvidenceSkipsSynthesis(t *testing.T) {
	var streams atomic.Int32
	ad := Adapters{
		Source: &fakeSource{},
		Streamer: streamFunc(func(context.Context, string, string, func(string) error) (string, error) {
			streams.Add(1)
			return "", nil
		}),
	}
	c, _ := newTestCoordinator(t, CoordinatorConfig{}, ad)
	waitBatch(t, c.Submit(context.Background(), []string{shortURL}))

	res := c.Query(context.Background(), shortURL)
	require.Equal(t, QueryFailed, res.Status)
	require.Equal(t, KindNoEvidence, res.Failure.Kind)
	require.Zero(t, streams.Load())
}

func TestSynthesisFailureRecorded(t *testing.T) {
	var broken atomic.Bool
	broken.Store(true)
	ad := okAdapters()
	ad.Streamer = streamFunc(func(_ context.Context, _, _ string, onDelta func(string) error) (string, error) {
		if !broken.Load() {
			return emit(onDelta, verdictDeltas...)
		}
		_, _ = emit(onDelta, "This video ")
		return "", errBoom
	})
	c, cache := newTestCoordinator(t, CoordinatorConfig{}, ad)
	waitBatch(t, c.Submit(context.Background(), []string{shortURL}))

	res := c.Query(context.Background(), shortURL)
	require.Equal(t, QueryFailed, res.Status)
	require.Equal(t, KindSynthesis, res.Failure.Kind)
	require.Zero(t, cache.stores("dQw4w9WgXcQ"))

	log, ok := c.Progress(shortURL)
	require.True(t, ok)
	chunks, closed, err := log.Snapshot()
	require.True(t, closed)
	require.Error(t, err)
	require.Equal(t, []string{"This video ", "[synthesis failed: boom]"}, chunks)

	// A later successful run clears the failure.
	broken.Store(false)
	waitBatch(t, c.Submit(context.Background(), []string{shortURL}))
	require.Equal(t, QueryReady, c.Query(context.Background(), shortURL).Status)
}

func TestConcurrencyCap(t *testing.T) {
	const limit = 10
	var active, peak atomic.Int32
	ad := okAdapters()
	ad.Source = &fakeSource{fn: func(_ context.Context, req engine.VideoRequest) (engine.MediaHandle, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		return engine.MediaHandle{VideoID: req.VideoID, Path: "/m.mp4"}, nil
	}}
	ad.Streamer = streamFunc(func(_ context.Context, _, _ string, onDelta func(string) error) (string, error) {
		defer active.Add(-1)
		time.Sleep(5 * time.Millisecond)
		return emit(onDelta, verdictDeltas...)
	})
	c, _ := newTestCoordinator(t, CoordinatorConfig{MaxConcurrentVideos: limit}, ad)

	urls := make([]string, 50)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/clips/video-%02d.mp4", i)
	}
	b := c.Submit(context.Background(), urls)
	waitBatch(t, b)

	require.LessOrEqual(t, peak.Load(), int32(limit))
	require.Empty(t, b.Errors())
	for _, u := range urls {
		require.Equal(t, QueryReady, c.Query(context.Background(), u).Status)
	}
	require.Zero(t, c.InFlight())
}

func TestQueryUnsubmitted(t *testing.T) {
	c, _ := newTestCoordinator(t, CoordinatorConfig{}, okAdapters())
	res := c.Query(context.Background(), "https://www.youtube.com/shorts/zzzzzzzzzzz")
	require.Equal(t, QueryNotFound, res.Status)
	require.Equal(t, "zzzzzzzzzzz", res.VideoID)
	require.Empty(t, res.Text)
	_, ok := c.Progress("https://www.youtube.com/shorts/zzzzzzzzzzz")
	require.False(t, ok)
}

func TestRefreshPolicyOverwrites(t *testing.T) {
	var n atomic.Int32
	ad := okAdapters()
	ad.Streamer = streamFunc(func(_ context.Context, _, _ string, onDelta func(string) error) (string, error) {
		return emit(onDelta, fmt.Sprintf("This video appears run %d.", n.Add(1)))
	})
	c, cache := newTestCoordinator(t, CoordinatorConfig{Policy: PolicyRefresh}, ad)
	ctx := context.Background()

	waitBatch(t, c.Submit(ctx, []string{shortURL}))
	b := c.Submit(ctx, []string{shortURL})
	require.Equal(t, []Disposition{DispositionQueued}, dispositions(b))
	waitBatch(t, b)

	require.Equal(t, "This video appears run 2.", c.Query(ctx, shortURL).Text)
	require.Equal(t, 2, cache.stores("dQw4w9WgXcQ"))
}

func TestProgressFollowsLiveRun(t *testing.T) {
	step := make(chan struct{})
	ad := okAdapters()
	ad.Streamer = streamFunc(func(_ context.Context, _, _ string, onDelta func(string) error) (string, error) {
		for _, d := range verdictDeltas {
			<-step
			if err := onDelta(d); err != nil {
				return "", err
			}
		}
		return "", nil
	})
	c, _ := newTestCoordinator(t, CoordinatorConfig{}, ad)
	b := c.Submit(context.Background(), []string{shortURL})

	log, ok := c.Progress(shortURL)
	require.True(t, ok)

	var got []string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, _ = follow(context.Background(), log)
	}()
	for range verdictDeltas {
		step <- struct{}{}
	}
	waitBatch(t, b)
	wg.Wait()
	require.Equal(t, verdictDeltas, got)
}

func TestProgressRetentionExpires(t *testing.T) {
	c, _ := newTestCoordinator(t, CoordinatorConfig{ProgressRetention: 20 * time.Millisecond}, okAdapters())
	waitBatch(t, c.Submit(context.Background(), []string{shortURL}))
	require.Eventually(t, func() bool {
		_, ok := c.Progress(shortURL)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCloseCancelsQueuedRuns(t *testing.T) {
	ad := okAdapters()
	ad.Source = &fakeSource{fn: func(ctx context.Context, req engine.VideoRequest) (engine.MediaHandle, error) {
		<-ctx.Done()
		return engine.MediaHandle{}, ctx.Err()
	}}
	cache := newCountingCache(t)
	c, err := NewCoordinator(CoordinatorConfig{MaxConcurrentVideos: 1}, ad, cache, nil)
	require.NoError(t, err)

	b := c.Submit(context.Background(), []string{shortURL, "https://youtu.be/AAAAAAAAAAA"})
	c.Close()
	waitBatch(t, b)
	require.Len(t, b.Errors(), 2)
	for _, e := range b.Errors() {
		require.Equal(t, KindAcquisition, e.Kind)
	}
}

func TestQueuedRunSkipsVerdictCachedMeanwhile(t *testing.T) {
	queued := "https://youtu.be/AAAAAAAAAAA"
	entered := make(chan struct{})
	release := make(chan struct{})
	var queuedAcquires atomic.Int32
	ad := okAdapters()
	ad.Source = &fakeSource{fn: func(_ context.Context, req engine.VideoRequest) (engine.MediaHandle, error) {
		if req.RawURL == queued {
			queuedAcquires.Add(1)
		} else {
			close(entered)
			<-release
		}
		return engine.MediaHandle{VideoID: req.VideoID, Path: "/m.mp4"}, nil
	}}
	c, cache := newTestCoordinator(t, CoordinatorConfig{MaxConcurrentVideos: 1}, ad)
	ctx := context.Background()

	first := c.Submit(ctx, []string{shortURL})
	<-entered
	second := c.Submit(ctx, []string{queued})
	require.Equal(t, []Disposition{DispositionQueued}, dispositions(second))

	stored, err := cache.Put(ctx, "AAAAAAAAAAA", "written elsewhere", engine.PutCreateOnly)
	require.NoError(t, err)
	require.True(t, stored)
	close(release)

	waitBatch(t, first)
	waitBatch(t, second)
	require.Empty(t, second.Errors())
	require.Zero(t, queuedAcquires.Load())
	require.Equal(t, 1, cache.stores("AAAAAAAAAAA"))

	res := c.Query(ctx, queued)
	require.Equal(t, QueryReady, res.Status)
	require.Equal(t, "written elsewhere", res.Text)
	_, live := c.Progress(queued)
	require.False(t, live)
}

func TestFailureRetentionExpires(t *testing.T) {
	ad := okAdapters()
	ad.Source = &fakeSource{fn: func(context.Context, engine.VideoRequest) (engine.MediaHandle, error) {
		return engine.MediaHandle{}, errBoom
	}}
	c, _ := newTestCoordinator(t, CoordinatorConfig{FailureRetention: 20 * time.Millisecond}, ad)
	ctx := context.Background()

	waitBatch(t, c.Submit(ctx, []string{shortURL}))
	require.Eventually(t, func() bool {
		return c.Query(ctx, shortURL).Status == QueryNotFound
	}, time.Second, 10*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Empty(t, c.failures)
}
