package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters across the engine.
var metrics struct {
	VideosSubmitted   atomic.Int64
	VideosSkipped     atomic.Int64
	VideosCompleted   atomic.Int64
	VideosFailed      atomic.Int64
	ActiveTaskGroups  atomic.Int64
	BranchTimeouts    atomic.Int64
	BranchFailures    atomic.Int64
	SynthesisChunks   atomic.Int64
	SynthesisFailures atomic.Int64
	LLMCalls          atomic.Int64
	LLMErrors         atomic.Int64
	SearchRequests    atomic.Int64
	FetchRequests     atomic.Int64
	FetchErrors       atomic.Int64
	Downloads         atomic.Int64
	Transcriptions    atomic.Int64
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64
}

var metricKeys = []string{
	"videos_submitted", "videos_skipped", "videos_completed", "videos_failed",
	"active_task_groups", "branch_timeouts", "branch_failures",
	"synthesis_chunks", "synthesis_failures",
	"llm_calls", "llm_errors",
	"search_requests", "fetch_requests", "fetch_errors",
	"downloads", "transcriptions",
	"cache_hits", "cache_misses",
}

// GetMetrics returns a snapshot of all metrics.
func GetMetrics() map[string]int64 {
	return map[string]int64{
		"videos_submitted":   metrics.VideosSubmitted.Load(),
		"videos_skipped":     metrics.VideosSkipped.Load(),
		"videos_completed":   metrics.VideosCompleted.Load(),
		"videos_failed":      metrics.VideosFailed.Load(),
		"active_task_groups": metrics.ActiveTaskGroups.Load(),
		"branch_timeouts":    metrics.BranchTimeouts.Load(),
		"branch_failures":    metrics.BranchFailures.Load(),
		"synthesis_chunks":   metrics.SynthesisChunks.Load(),
		"synthesis_failures": metrics.SynthesisFailures.Load(),
		"llm_calls":          metrics.LLMCalls.Load(),
		"llm_errors":         metrics.LLMErrors.Load(),
		"search_requests":    metrics.SearchRequests.Load(),
		"fetch_requests":     metrics.FetchRequests.Load(),
		"fetch_errors":       metrics.FetchErrors.Load(),
		"downloads":          metrics.Downloads.Load(),
		"transcriptions":     metrics.Transcriptions.Load(),
		"cache_hits":         metrics.CacheHits.Load(),
		"cache_misses":       metrics.CacheMisses.Load(),
	}
}

// FormatMetrics returns metrics as a simple text format for HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	var sb strings.Builder
	for _, k := range metricKeys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}

// Incrementors for the pipeline and sources sub-packages.
func IncrVideosSubmitted(n int) { metrics.VideosSubmitted.Add(int64(n)) }
func IncrVideosSkipped()        { metrics.VideosSkipped.Add(1) }
func IncrVideosCompleted()      { metrics.VideosCompleted.Add(1) }
func IncrVideosFailed()         { metrics.VideosFailed.Add(1) }
func IncrBranchTimeouts()       { metrics.BranchTimeouts.Add(1) }
func IncrBranchFailures()       { metrics.BranchFailures.Add(1) }
func IncrSynthesisChunks()      { metrics.SynthesisChunks.Add(1) }
func IncrSynthesisFailures()    { metrics.SynthesisFailures.Add(1) }
func IncrDownloads()            { metrics.Downloads.Add(1) }
func IncrTranscriptions()       { metrics.Transcriptions.Add(1) }
func IncrFetchRequests()        { metrics.FetchRequests.Add(1) }
func IncrFetchErrors()          { metrics.FetchErrors.Add(1) }

// TaskGroupStarted marks a task group active and returns its release func.
func TaskGroupStarted() func() {
	metrics.ActiveTaskGroups.Add(1)
	return func() { metrics.ActiveTaskGroups.Add(-1) }
}

// ActiveTaskGroups reports how many task groups are running right now.
func ActiveTaskGroups() int64 { return metrics.ActiveTaskGroups.Load() }

// TrackOperation logs a warning if an operation takes longer than threshold.
func TrackOperation(ctx context.Context, name string, threshold time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if elapsed > threshold {
		slog.Warn("slow operation", slog.String("op", name), slog.Duration("elapsed", elapsed))
	}
	return err
}
