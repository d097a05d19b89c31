package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

const (
	defaultStepTimeout      = 60 * time.Second
	defaultAcquireTimeout   = 180 * time.Second
	defaultSynthesisTimeout = 120 * time.Second
)

var errNotConfigured = errors.New("adapter not configured")

// Timeouts are the per-step budgets. Zero fields take the defaults.
type Timeouts struct {
	Acquire    time.Duration
	Audio      time.Duration
	Transcribe time.Duration
	FactCheck  time.Duration
	Channel    time.Duration
	Content    time.Duration
	Synthesis  time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	set := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}
	set(&t.Acquire, defaultAcquireTimeout)
	set(&t.Audio, defaultStepTimeout)
	set(&t.Transcribe, defaultStepTimeout)
	set(&t.FactCheck, defaultStepTimeout)
	set(&t.Channel, defaultStepTimeout)
	set(&t.Content, defaultStepTimeout)
	set(&t.Synthesis, defaultSynthesisTimeout)
	return t
}

// TaskGroup runs the evidence branches for one video:
// {extract audio → transcribe → fact search}, {channel}, {content}.
type TaskGroup struct {
	ad       Adapters
	timeouts Timeouts
	language string
	log      *slog.Logger
}

func NewTaskGroup(ad Adapters, timeouts Timeouts, language string, log *slog.Logger) *TaskGroup {
	if log == nil {
		log = slog.Default()
	}
	return &TaskGroup{
		ad:       ad,
		timeouts: timeouts.withDefaults(),
		language: language,
		log:      log.With("component", "taskgroup"),
	}
}

// Analyze always returns a complete bundle. Each field resolves on its own;
// a failing branch never cancels the others.
func (g *TaskGroup) Analyze(ctx context.Context, req engine.VideoRequest, media engine.MediaHandle) Bundle {
	b := Bundle{VideoID: req.VideoID}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		b.Transcript, b.FactCheck = g.speechBranch(ctx, media)
	}()
	go func() {
		defer wg.Done()
		b.Channel = g.channelBranch(ctx, req)
	}()
	go func() {
		defer wg.Done()
		b.Content = g.contentBranch(ctx, media)
	}()
	wg.Wait()

	for name, f := range map[string]Evidence{
		"transcript": b.Transcript, "channel": b.Channel,
		"content": b.Content, "fact_check": b.FactCheck,
	} {
		g.record(req.VideoID, name, f)
	}
	return b
}

func (g *TaskGroup) speechBranch(ctx context.Context, media engine.MediaHandle) (Evidence, Evidence) {
	transcript := g.transcribe(ctx, media)
	if !transcript.IsOK() {
		return transcript, Failed("transcript unavailable: " + transcript.Status().String())
	}
	if g.ad.Facts == nil {
		return transcript, Failed(errNotConfigured.Error())
	}
	report, err := runStep(ctx, g.timeouts.FactCheck, func(ctx context.Context) (engine.FactReport, error) {
		return g.ad.Facts.Search(ctx, transcript.Text())
	})
	return transcript, evidenceOf(report.Text(), err)
}

func (g *TaskGroup) transcribe(ctx context.Context, media engine.MediaHandle) Evidence {
	if g.ad.Audio == nil || g.ad.Transcriber == nil {
		return Failed(errNotConfigured.Error())
	}
	audio, err := runStep(ctx, g.timeouts.Audio, func(ctx context.Context) (engine.AudioHandle, error) {
		return g.ad.Audio.ExtractAudio(ctx, media)
	})
	if err != nil {
		if errors.Is(err, errStepTimeout) {
			return TimedOut()
		}
		return Failed("audio extraction: " + err.Error())
	}
	text, err := runStep(ctx, g.timeouts.Transcribe, func(ctx context.Context) (string, error) {
		return g.ad.Transcriber.Transcribe(ctx, audio, g.language)
	})
	return evidenceOf(text, err)
}

func (g *TaskGroup) channelBranch(ctx context.Context, req engine.VideoRequest) Evidence {
	if g.ad.Channel == nil {
		return Failed(errNotConfigured.Error())
	}
	report, err := runStep(ctx, g.timeouts.Channel, func(ctx context.Context) (engine.ChannelReport, error) {
		return g.ad.Channel.LookupChannel(ctx, req.RawURL)
	})
	if err != nil {
		return evidenceOf("", err)
	}
	return OK(report.Text())
}

func (g *TaskGroup) contentBranch(ctx context.Context, media engine.MediaHandle) Evidence {
	if g.ad.Content == nil {
		return Failed(errNotConfigured.Error())
	}
	text, err := runStep(ctx, g.timeouts.Content, func(ctx context.Context) (string, error) {
		return g.ad.Content.AnalyzeContent(ctx, media)
	})
	return evidenceOf(text, err)
}

func (g *TaskGroup) record(videoID, field string, e Evidence) {
	switch e.Status() {
	case StatusOK:
		return
	case StatusTimedOut:
		engine.IncrBranchTimeouts()
		g.log.Warn("branch timed out", slog.String("video_id", videoID), slog.String("field", field))
	default:
		engine.IncrBranchFailures()
		g.log.Warn("branch failed", slog.String("video_id", videoID), slog.String("field", field),
			slog.String("kind", string(e.Kind())), slog.String("reason", e.Reason()))
	}
}
