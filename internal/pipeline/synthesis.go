package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

// DefaultFieldLimit caps each evidence field in the synthesis prompt.
const DefaultFieldLimit = 10000

var errSinkClosed = errors.New("synthesis already finished")

// Synthesis is the streamed verdict for one video. FinalText always equals
// the concatenation of Chunks, including the error chunk on failure.
type Synthesis struct {
	VideoID   string
	Chunks    []string
	FinalText string
	Err       error
}

// ErrorChunk is the chunk appended when synthesis fails.
func ErrorChunk(reason string) string {
	return fmt.Sprintf("[synthesis failed: %s]", reason)
}

// BuildPrompt renders the bundle into the synthesis user prompt.
func BuildPrompt(b Bundle, fieldLimit int) string {
	return fmt.Sprintf(engine.SynthesisUserPrompt,
		b.Transcript.Render(fieldLimit),
		b.Channel.Render(fieldLimit),
		b.Content.Render(fieldLimit),
		b.FactCheck.Render(fieldLimit),
	)
}

// Synthesizer streams one verdict per bundle.
type Synthesizer struct {
	streamer   Streamer
	timeout    time.Duration
	fieldLimit int
	log        *slog.Logger
}

func NewSynthesizer(streamer Streamer, timeout time.Duration, fieldLimit int, log *slog.Logger) *Synthesizer {
	if timeout <= 0 {
		timeout = defaultSynthesisTimeout
	}
	if fieldLimit <= 0 {
		fieldLimit = DefaultFieldLimit
	}
	if log == nil {
		log = slog.Default()
	}
	return &Synthesizer{streamer: streamer, timeout: timeout, fieldLimit: fieldLimit, log: log.With("component", "synthesis")}
}

// chunkCollector records deltas and forwards them to the sink until sealed.
type chunkCollector struct {
	mu     sync.Mutex
	chunks []string
	sealed bool
	sink   ChunkSink
}

func (c *chunkCollector) add(chunk string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return errSinkClosed
	}
	c.chunks = append(c.chunks, chunk)
	if c.sink != nil {
		c.sink.Append(chunk)
	}
	engine.IncrSynthesisChunks()
	return nil
}

// seal stops accepting deltas, appends the error chunk if err is set and
// returns the final chunk list.
func (c *chunkCollector) seal(err error) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
	if err != nil {
		chunk := ErrorChunk(err.Error())
		c.chunks = append(c.chunks, chunk)
		if c.sink != nil {
			c.sink.Append(chunk)
		}
	}
	return c.chunks
}

// Synthesize streams the verdict for b into sink. It returns within the
// synthesis timeout even if the streamer ignores cancellation.
func (s *Synthesizer) Synthesize(ctx context.Context, b Bundle, sink ChunkSink) Synthesis {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	col := &chunkCollector{sink: sink}
	prompt := BuildPrompt(b, s.fieldLimit)
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("streamer panic: %v", p)
			}
		}()
		_, err := s.streamer.StreamComplete(ctx, engine.SynthesisSystemPrompt, prompt, func(delta string) error {
			if delta == "" {
				return nil
			}
			return col.add(delta)
		})
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		col.mu.Lock()
		empty := len(col.chunks) == 0
		col.mu.Unlock()
		if empty {
			err = errors.New("empty response")
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s", s.timeout)
	}

	chunks := col.seal(err)
	res := Synthesis{
		VideoID:   b.VideoID,
		Chunks:    chunks,
		FinalText: strings.Join(chunks, ""),
		Err:       err,
	}
	if err != nil {
		engine.IncrSynthesisFailures()
		s.log.Warn("synthesis failed", slog.String("video_id", b.VideoID), slog.Any("error", err))
	}
	return res
}
