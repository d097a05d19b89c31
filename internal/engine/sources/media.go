package sources

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

// lowestProgressiveMP4 picks the smallest single-file MP4 with audio and video.
const lowestProgressiveMP4 = "worst[ext=mp4][vcodec!=none][acodec!=none]/worst[ext=mp4]/worst"

// MediaConfig configures MediaStore.
type MediaConfig struct {
	DataDir string
	YTDLP   string
	FFmpeg  string
	Cookies string
	Runner  CommandRunner // nil = ExecRunner
	Logger  *slog.Logger
}

// MediaStore downloads videos with yt-dlp and extracts audio with ffmpeg
// under DataDir/videos and DataDir/audio. Concurrent calls for one video
// share a single download or extraction.
type MediaStore struct {
	videoDir string
	audioDir string
	ytdlp    string
	ffmpeg   string
	cookies  string
	runner   CommandRunner
	dl       singleflight.Group
	ex       singleflight.Group
	log      *slog.Logger
}

func NewMediaStore(mc MediaConfig) *MediaStore {
	if mc.YTDLP == "" {
		mc.YTDLP = "yt-dlp"
	}
	if mc.FFmpeg == "" {
		mc.FFmpeg = "ffmpeg"
	}
	if mc.Runner == nil {
		mc.Runner = ExecRunner{}
	}
	if mc.Logger == nil {
		mc.Logger = slog.Default()
	}
	return &MediaStore{
		videoDir: filepath.Join(mc.DataDir, "videos"),
		audioDir: filepath.Join(mc.DataDir, "audio"),
		ytdlp:    mc.YTDLP,
		ffmpeg:   mc.FFmpeg,
		cookies:  mc.Cookies,
		runner:   mc.Runner,
		log:      mc.Logger.With("component", "media"),
	}
}

// Acquire makes the video available locally, returning early if it already is.
func (m *MediaStore) Acquire(ctx context.Context, req engine.VideoRequest) (engine.MediaHandle, error) {
	path := filepath.Join(m.videoDir, req.VideoID+".mp4")
	h := engine.MediaHandle{VideoID: req.VideoID, SourceURL: req.RawURL, Path: path, MIMEType: "video/mp4"}
	if fileExists(path) {
		return h, nil
	}

	_, err, _ := m.dl.Do(req.VideoID, func() (any, error) {
		if fileExists(path) {
			return nil, nil
		}
		if err := os.MkdirAll(m.videoDir, 0o755); err != nil {
			return nil, fmt.Errorf("create video dir: %w", err)
		}
		return engine.RetryDo(ctx, engine.ToolRetryConfig, func() (any, error) {
			return nil, m.download(ctx, req.RawURL, path)
		})
	})
	if err != nil {
		return engine.MediaHandle{}, fmt.Errorf("acquire %s: %w", req.VideoID, err)
	}
	if !fileExists(path) {
		return engine.MediaHandle{}, fmt.Errorf("acquire %s: %w: no file produced", req.VideoID, engine.ErrUnavailable)
	}
	return h, nil
}

func (m *MediaStore) download(ctx context.Context, rawURL, path string) error {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--no-cache-dir",
		"--force-overwrites",
		"-f", lowestProgressiveMP4,
		"-o", path,
	}
	if strings.TrimSpace(m.cookies) != "" {
		args = append(args, "--cookies", m.cookies)
	}
	args = append(args, rawURL)

	engine.IncrDownloads()
	err := engine.TrackOperation(ctx, "yt-dlp download", slowToolThreshold, func(ctx context.Context) error {
		_, err := m.runner.Run(ctx, m.ytdlp, args...)
		return err
	})
	if err != nil {
		m.log.Warn("download failed", slog.String("url", rawURL), slog.Any("error", err))
		return classifyDownloadError(err)
	}
	return nil
}

// ExtractAudio converts the video's audio track to MP3. It is idempotent:
// an existing output is returned as is.
func (m *MediaStore) ExtractAudio(ctx context.Context, media engine.MediaHandle) (engine.AudioHandle, error) {
	out := filepath.Join(m.audioDir, media.VideoID+".mp3")
	h := engine.AudioHandle{VideoID: media.VideoID, Path: out}
	if fileExists(out) {
		return h, nil
	}

	_, err, _ := m.ex.Do(media.VideoID, func() (any, error) {
		if fileExists(out) {
			return nil, nil
		}
		if err := os.MkdirAll(m.audioDir, 0o755); err != nil {
			return nil, fmt.Errorf("create audio dir: %w", err)
		}
		// Write beside the target and rename so readers never see a partial file.
		tmp := strings.TrimSuffix(out, ".mp3") + ".partial.mp3"
		_, err := m.runner.Run(ctx, m.ffmpeg,
			"-y", "-loglevel", "error",
			"-i", media.Path,
			"-vn", "-acodec", "libmp3lame", "-q:a", "2",
			tmp,
		)
		if err != nil {
			_ = os.Remove(tmp)
			return nil, err
		}
		return nil, os.Rename(tmp, out)
	})
	if err != nil {
		return engine.AudioHandle{}, fmt.Errorf("extract audio %s: %w", media.VideoID, err)
	}
	return h, nil
}
