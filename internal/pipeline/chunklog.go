package pipeline

import (
	"context"
	"strings"
	"sync"
)

// ChunkSink receives synthesis output in order.
type ChunkSink interface {
	Append(chunk string)
}

// ChunkLog is an append-only list of chunks that any number of readers can
// follow while one writer appends. After Close further appends are dropped.
type ChunkLog struct {
	mu     sync.Mutex
	chunks []string
	closed bool
	err    error
	wake   chan struct{}
}

func NewChunkLog() *ChunkLog {
	return &ChunkLog{wake: make(chan struct{})}
}

func (l *ChunkLog) Append(chunk string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.chunks = append(l.chunks, chunk)
	l.signal()
}

// Close ends the log; err is the run's failure, if any.
func (l *ChunkLog) Close(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.err = err
	l.signal()
}

// signal wakes all waiters. Caller holds mu.
func (l *ChunkLog) signal() {
	close(l.wake)
	l.wake = make(chan struct{})
}

// Snapshot returns the chunks so far and whether the log is closed.
func (l *ChunkLog) Snapshot() (chunks []string, closed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.chunks...), l.closed, l.err
}

// Text joins the chunks appended so far.
func (l *ChunkLog) Text() string {
	chunks, _, _ := l.Snapshot()
	return strings.Join(chunks, "")
}

// Next blocks until chunks beyond index from exist or the log closes, and
// returns them. closed reports that nothing further will arrive. The error
// is the context's.
func (l *ChunkLog) Next(ctx context.Context, from int) (chunks []string, closed bool, err error) {
	for {
		l.mu.Lock()
		if from < len(l.chunks) || l.closed {
			if from < len(l.chunks) {
				chunks = append([]string(nil), l.chunks[from:]...)
			}
			closed = l.closed
			l.mu.Unlock()
			return chunks, closed, nil
		}
		wake := l.wake
		l.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}
