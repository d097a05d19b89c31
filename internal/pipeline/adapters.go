// Package pipeline orchestrates per-video analysis: acquisition, the three
// concurrent evidence branches, streaming synthesis and the verdict cache.
package pipeline

import (
	"context"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

// SourceAcquirer makes a video available locally. Errors wrap
// engine.ErrUnavailable, engine.ErrRestricted or engine.ErrNotFound when
// the failure is classified.
type SourceAcquirer interface {
	Acquire(ctx context.Context, req engine.VideoRequest) (engine.MediaHandle, error)
}

// AudioExtractor pulls the audio track out of a downloaded video. Idempotent.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, media engine.MediaHandle) (engine.AudioHandle, error)
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio engine.AudioHandle, lang string) (string, error)
}

// ChannelInspector reports on the channel that published a video.
type ChannelInspector interface {
	LookupChannel(ctx context.Context, sourceURL string) (engine.ChannelReport, error)
}

// ContentAnalyzer describes what the video shows and how it persuades.
type ContentAnalyzer interface {
	AnalyzeContent(ctx context.Context, media engine.MediaHandle) (string, error)
}

// FactSearcher checks transcript claims against web sources.
type FactSearcher interface {
	Search(ctx context.Context, transcript string) (engine.FactReport, error)
}

// Streamer produces a completion incrementally.
type Streamer interface {
	StreamComplete(ctx context.Context, system, prompt string, onDelta func(string) error) (string, error)
}

// Cache is the verdict store the coordinator reads and writes.
type Cache interface {
	Get(ctx context.Context, videoID string) (string, bool, error)
	Put(ctx context.Context, videoID, text string, mode engine.PutMode) (bool, error)
}

// Adapters bundles the collaborators a Coordinator drives. Source and
// Streamer are required; a nil branch adapter resolves to a failed field.
type Adapters struct {
	Source      SourceAcquirer
	Audio       AudioExtractor
	Transcriber Transcriber
	Channel     ChannelInspector
	Content     ContentAnalyzer
	Facts       FactSearcher
	Streamer    Streamer
}
