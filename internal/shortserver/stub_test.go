package shortserver

import (
	"context"
	"sync"

	"github.com/anatolykoptev/go_shorts/internal/engine"
	"github.com/anatolykoptev/go_shorts/internal/pipeline"
)

type stubCoord struct {
	mu        sync.Mutex
	submitted [][]string
	results   map[string]pipeline.QueryResult
	logs      map[string]*pipeline.ChunkLog
	inflight  int
}

func newStubCoord() *stubCoord {
	return &stubCoord{
		results: make(map[string]pipeline.QueryResult),
		logs:    make(map[string]*pipeline.ChunkLog),
	}
}

func (s *stubCoord) Submit(_ context.Context, urls []string) *pipeline.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, urls)
	b := &pipeline.Batch{ID: "batch-1"}
	for _, u := range urls {
		d := pipeline.DispositionQueued
		if _, ok := s.results[engine.VideoID(u)]; ok {
			d = pipeline.DispositionCached
		}
		b.Items = append(b.Items, pipeline.BatchItem{URL: u, VideoID: engine.VideoID(u), Disposition: d})
	}
	return b
}

func (s *stubCoord) Query(_ context.Context, rawURL string) pipeline.QueryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := engine.VideoID(rawURL)
	if r, ok := s.results[id]; ok {
		return r
	}
	return pipeline.QueryResult{Status: pipeline.QueryNotFound, VideoID: id}
}

func (s *stubCoord) Progress(rawURL string) (*pipeline.ChunkLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[engine.VideoID(rawURL)]
	return l, ok
}

func (s *stubCoord) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

func (s *stubCoord) ready(id, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[id] = pipeline.QueryResult{Status: pipeline.QueryReady, VideoID: id, Text: text}
}

func (s *stubCoord) live(id string) *pipeline.ChunkLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := pipeline.NewChunkLog()
	s.logs[id] = l
	return l
}
