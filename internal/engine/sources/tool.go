package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

// slowToolThreshold is when a tool run gets logged as slow.
const slowToolThreshold = 20 * time.Second

// CommandRunner runs an external binary and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec; the context kills the process.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ToolError{
			Tool:   filepath.Base(name),
			Stderr: tailLines(stderr.String(), 5),
			Err:    err,
		}
	}
	return stdout.Bytes(), nil
}

// ToolError is a non-zero exit from an external tool.
type ToolError struct {
	Tool   string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, e.Stderr)
}

func (e *ToolError) Unwrap() error { return e.Err }

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

var (
	restrictedHints = []string{
		"private video", "members-only", "join this channel",
		"sign in to confirm your age", "age-restricted", "inappropriate for some users",
	}
	notFoundHints = []string{
		"http error 404", "unsupported url", "is not a valid url",
		"incomplete youtube id", "does not exist",
	}
	unavailableHints = []string{
		"video unavailable", "has been removed", "no longer available",
		"not available in your country", "account associated with this video has been terminated",
	}
	transientHints = []string{
		"429", "too many requests", "rate limit", "timed out", "timeout",
		"temporarily unavailable", "connection reset", "service unavailable",
		"network is unreachable", "http error 5",
	}
)

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

// classifyDownloadError maps yt-dlp stderr to the acquisition sentinels.
// Transient failures are marked for retry; anything else passes through.
func classifyDownloadError(err error) error {
	var te *ToolError
	if !errors.As(err, &te) {
		return err
	}
	text := strings.ToLower(te.Stderr)
	switch {
	case containsAny(text, restrictedHints):
		return fmt.Errorf("%w: %s", engine.ErrRestricted, te.Stderr)
	case containsAny(text, notFoundHints):
		return fmt.Errorf("%w: %s", engine.ErrNotFound, te.Stderr)
	case containsAny(text, unavailableHints):
		return fmt.Errorf("%w: %s", engine.ErrUnavailable, te.Stderr)
	case containsAny(text, transientHints):
		return engine.Transient(err)
	}
	return err
}

// DependencyReport says which external tools resolved on PATH.
type DependencyReport struct {
	YTDLPPath  string
	FFmpegPath string
}

// CheckDependencies looks up yt-dlp and ffmpeg. Missing tools are an error
// the caller may treat as a warning.
func CheckDependencies(ytdlp, ffmpeg string) (DependencyReport, error) {
	var report DependencyReport
	var missing []string
	if p, err := exec.LookPath(ytdlp); err == nil {
		report.YTDLPPath = p
	} else {
		missing = append(missing, ytdlp)
	}
	if p, err := exec.LookPath(ffmpeg); err == nil {
		report.FFmpegPath = p
	} else {
		missing = append(missing, ffmpeg)
	}
	if len(missing) > 0 {
		return report, fmt.Errorf("missing dependency: %s not found on PATH", strings.Join(missing, ", "))
	}
	return report, nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir() && st.Size() > 0
}
