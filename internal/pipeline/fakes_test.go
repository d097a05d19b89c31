package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

type fakeSource struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req engine.VideoRequest) (engine.MediaHandle, error)
}

func (f *fakeSource) Acquire(ctx context.Context, req engine.VideoRequest) (engine.MediaHandle, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return engine.MediaHandle{VideoID: req.VideoID, SourceURL: req.RawURL, Path: "/media/" + req.VideoID + ".mp4"}, nil
}

type fakeAudio struct{}

func (fakeAudio) ExtractAudio(_ context.Context, m engine.MediaHandle) (engine.AudioHandle, error) {
	return engine.AudioHandle{VideoID: m.VideoID, Path: "/audio/" + m.VideoID + ".mp3"}, nil
}

type transcribeFunc func(ctx context.Context, a engine.AudioHandle, lang string) (string, error)

func (f transcribeFunc) Transcribe(ctx context.Context, a engine.AudioHandle, lang string) (string, error) {
	return f(ctx, a, lang)
}

type channelFunc func(ctx context.Context, url string) (engine.ChannelReport, error)

func (f channelFunc) LookupChannel(ctx context.Context, url string) (engine.ChannelReport, error) {
	return f(ctx, url)
}

type contentFunc func(ctx context.Context, m engine.MediaHandle) (string, error)

func (f contentFunc) AnalyzeContent(ctx context.Context, m engine.MediaHandle) (string, error) {
	return f(ctx, m)
}

type factsFunc func(ctx context.Context, transcript string) (engine.FactReport, error)

func (f factsFunc) Search(ctx context.Context, transcript string) (engine.FactReport, error) {
	return f(ctx, transcript)
}

type streamFunc func(ctx context.Context, system, prompt string, onDelta func(string) error) (string, error)

func (f streamFunc) StreamComplete(ctx context.Context, system, prompt string, onDelta func(string) error) (string, error) {
	return f(ctx, system, prompt, onDelta)
}

// emit streams deltas through onDelta and returns their concatenation.
func emit(onDelta func(string) error, deltas ...string) (string, error) {
	var out string
	for _, d := range deltas {
		if err := onDelta(d); err != nil {
			return out, err
		}
		out += d
	}
	return out, nil
}

var verdictDeltas = []string{"This video appears ", "mostly ", "trustworthy."}

func okStreamer() Streamer {
	return streamFunc(func(_ context.Context, _, _ string, onDelta func(string) error) (string, error) {
		return emit(onDelta, verdictDeltas...)
	})
}

// okAdapters returns adapters where every branch succeeds.
func okAdapters() Adapters {
	return Adapters{
		Source: &fakeSource{},
		Audio:  fakeAudio{},
		Transcriber: transcribeFunc(func(context.Context, engine.AudioHandle, string) (string, error) {
			return "drinking lemon water cures colds", nil
		}),
		Channel: channelFunc(func(_ context.Context, url string) (engine.ChannelReport, error) {
			return engine.ChannelReport{Meta: engine.ChannelMeta{Name: "Health Hacks", URL: "https://youtube.com/@hh"}, Assessment: "lifestyle channel"}, nil
		}),
		Content: contentFunc(func(context.Context, engine.MediaHandle) (string, error) {
			return "Overview: a kitchen clip.", nil
		}),
		Facts: factsFunc(func(context.Context, string) (engine.FactReport, error) {
			return engine.FactReport{
				Sources: []engine.FactSource{{URL: "https://nih.gov/x", Assessment: "no evidence", Supports: false}},
				Summary: "claim unsupported",
			}, nil
		}),
		Streamer: okStreamer(),
	}
}

var errBoom = errors.New("boom")

// countingCache wraps a file-backed VerdictCache and counts stores.
type countingCache struct {
	*engine.VerdictCache
	mu   sync.Mutex
	puts map[string]int
}

func newCountingCache(t *testing.T) *countingCache {
	t.Helper()
	fs, err := engine.OpenFileStore(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, err)
	return &countingCache{VerdictCache: engine.NewVerdictCache(fs, 0, nil), puts: make(map[string]int)}
}

func (c *countingCache) Put(ctx context.Context, id, text string, mode engine.PutMode) (bool, error) {
	stored, err := c.VerdictCache.Put(ctx, id, text, mode)
	if stored {
		c.mu.Lock()
		c.puts[id]++
		c.mu.Unlock()
	}
	return stored, err
}

func (c *countingCache) stores(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts[id]
}
