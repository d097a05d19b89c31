package sources

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

// fakeRunner answers tool invocations from a handler and counts them.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fn    func(name string, args []string) ([]byte, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.fn(name, args)
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// argAfter returns the argument following flag.
func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func writeOutput(path string) error {
	return os.WriteFile(path, []byte("data"), 0o644)
}

func TestAcquireDownloadsOnce(t *testing.T) {
	dir := t.TempDir()
	var downloads atomic.Int32
	runner := &fakeRunner{fn: func(name string, args []string) ([]byte, error) {
		downloads.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil, writeOutput(argAfter(args, "-o"))
	}}
	ms := NewMediaStore(MediaConfig{DataDir: dir, Runner: runner})
	req := engine.NewVideoRequest("https://www.youtube.com/shorts/dQw4w9WgXcQ")

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := ms.Acquire(context.Background(), req)
			assert.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "videos", "dQw4w9WgXcQ.mp4"), h.Path)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, downloads.Load())

	// Existing file short-circuits without running yt-dlp.
	_, err := ms.Acquire(context.Background(), req)
	require.NoError(t, err)
	require.EqualValues(t, 1, downloads.Load())
}

func TestAcquireCookiesAndFormat(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{fn: func(name string, args []string) ([]byte, error) {
		return nil, writeOutput(argAfter(args, "-o"))
	}}
	ms := NewMediaStore(MediaConfig{DataDir: dir, YTDLP: "/opt/yt-dlp", Cookies: "/tmp/c.txt", Runner: runner})
	_, err := ms.Acquire(context.Background(), engine.NewVideoRequest("https://youtu.be/dQw4w9WgXcQ"))
	require.NoError(t, err)

	call := runner.calls[0]
	require.Equal(t, "/opt/yt-dlp", call[0])
	require.Equal(t, "/tmp/c.txt", argAfter(call, "--cookies"))
	require.Equal(t, lowestProgressiveMP4, argAfter(call, "-f"))
	require.Equal(t, "https://youtu.be/dQw4w9WgXcQ", call[len(call)-1])
}

func TestAcquireClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   error
	}{
		{"private", "ERROR: [youtube] abc: Private video. Sign in if you've been granted access", engine.ErrRestricted},
		{"age", "ERROR: Sign in to confirm your age", engine.ErrRestricted},
		{"removed", "ERROR: [youtube] abc: Video unavailable. This video has been removed", engine.ErrUnavailable},
		{"missing", "ERROR: [generic] Unsupported URL: https://example.com", engine.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{fn: func(string, []string) ([]byte, error) {
				return nil, &ToolError{Tool: "yt-dlp", Stderr: tt.stderr, Err: errors.New("exit status 1")}
			}}
			ms := NewMediaStore(MediaConfig{DataDir: t.TempDir(), Runner: runner})
			_, err := ms.Acquire(context.Background(), engine.NewVideoRequest("https://youtu.be/dQw4w9WgXcQ"))
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, 1, runner.count(), "classified failures are not retried")
		})
	}
}

func TestAcquireNoFileProduced(t *testing.T) {
	runner := &fakeRunner{fn: func(string, []string) ([]byte, error) { return nil, nil }}
	ms := NewMediaStore(MediaConfig{DataDir: t.TempDir(), Runner: runner})
	_, err := ms.Acquire(context.Background(), engine.NewVideoRequest("https://youtu.be/dQw4w9WgXcQ"))
	require.ErrorIs(t, err, engine.ErrUnavailable)
}

func TestClassifyDownloadError(t *testing.T) {
	plain := errors.New("boom")
	require.Same(t, plain, classifyDownloadError(plain))

	transient := classifyDownloadError(&ToolError{Tool: "yt-dlp", Stderr: "HTTP Error 429: Too Many Requests", Err: plain})
	require.ErrorIs(t, transient, plain)
	require.NotErrorIs(t, transient, engine.ErrUnavailable)

	other := &ToolError{Tool: "yt-dlp", Stderr: "something odd", Err: plain}
	require.Equal(t, error(other), classifyDownloadError(other))
}

func TestExtractAudioIdempotent(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{fn: func(name string, args []string) ([]byte, error) {
		require.Equal(t, "ffmpeg", name)
		return nil, writeOutput(args[len(args)-1])
	}}
	ms := NewMediaStore(MediaConfig{DataDir: dir, Runner: runner})
	media := engine.MediaHandle{VideoID: "abc", Path: filepath.Join(dir, "videos", "abc.mp4")}

	a, err := ms.ExtractAudio(context.Background(), media)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "audio", "abc.mp3"), a.Path)
	require.FileExists(t, a.Path)
	require.NoFileExists(t, filepath.Join(dir, "audio", "abc.partial.mp3"))

	_, err = ms.ExtractAudio(context.Background(), media)
	require.NoError(t, err)
	require.Equal(t, 1, runner.count())
}

func TestExtractAudioFailure(t *testing.T) {
	runner := &fakeRunner{fn: func(string, []string) ([]byte, error) {
		return nil, &ToolError{Tool: "ffmpeg", Stderr: "Invalid data found", Err: errors.New("exit status 1")}
	}}
	ms := NewMediaStore(MediaConfig{DataDir: t.TempDir(), Runner: runner})
	_, err := ms.ExtractAudio(context.Background(), engine.MediaHandle{VideoID: "abc", Path: "/nope.mp4"})
	require.ErrorContains(t, err, "Invalid data found")
}

func TestTailLines(t *testing.T) {
	require.Equal(t, "c | d", tailLines("a\nb\nc\nd\n", 2))
	require.Equal(t, "x", tailLines("x", 5))
}

func TestCheckDependenciesMissing(t *testing.T) {
	_, err := CheckDependencies("definitely-not-a-real-tool-xyz", "another-missing-tool-xyz")
	require.ErrorContains(t, err, "definitely-not-a-real-tool-xyz")
}
