package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

const transcriptionsPath = "/v1/audio/transcriptions"

// WhisperTranscriber posts audio to an OpenAI-compatible transcription
// endpoint (a vLLM server hosting Voxtral, or any Whisper-style API).
type WhisperTranscriber struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewWhisperTranscriber accepts either the server root or the full
// /v1/audio/transcriptions URL.
func NewWhisperTranscriber(baseURL, model, apiKey string, client *http.Client) *WhisperTranscriber {
	endpoint := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(endpoint, transcriptionsPath) {
		endpoint += transcriptionsPath
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WhisperTranscriber{endpoint: endpoint, model: model, apiKey: apiKey, client: client}
}

type transcriptionResp struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe uploads the audio file and returns the recognized text.
// The server may be cold; the caller's context sets the budget.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio engine.AudioHandle, lang string) (string, error) {
	body, contentType, err := w.buildForm(audio.Path, lang)
	if err != nil {
		return "", err
	}

	engine.IncrTranscriptions()
	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		if w.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+w.apiKey)
		}
		return w.client.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", audio.VideoID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("transcribe %s: read: %w", audio.VideoID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcribe %s: status %d: %s", audio.VideoID, resp.StatusCode, engine.TruncateRunes(string(raw), 200, "..."))
	}

	var out transcriptionResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("transcribe %s: decode: %w", audio.VideoID, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("transcribe %s: %s", audio.VideoID, out.Error.Message)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", fmt.Errorf("transcribe %s: empty transcript", audio.VideoID)
	}
	return text, nil
}

func (w *WhisperTranscriber) buildForm(path, lang string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read audio: %w", err)
	}
	fields := map[string]string{
		"model":           w.model,
		"language":        lang,
		"temperature":     "0",
		"response_format": "json",
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// TextTranscriber turns an audio file into text.
type TextTranscriber interface {
	Transcribe(ctx context.Context, audio engine.AudioHandle, lang string) (string, error)
}

// FallbackTranscriber tries each transcriber in order until one succeeds.
type FallbackTranscriber struct {
	chain []TextTranscriber
	log   *slog.Logger
}

func NewFallbackTranscriber(log *slog.Logger, chain ...TextTranscriber) *FallbackTranscriber {
	if log == nil {
		log = slog.Default()
	}
	return &FallbackTranscriber{chain: chain, log: log.With("component", "transcribe")}
}

func (f *FallbackTranscriber) Transcribe(ctx context.Context, audio engine.AudioHandle, lang string) (string, error) {
	var errs []error
	for i, t := range f.chain {
		text, err := t.Transcribe(ctx, audio, lang)
		if err == nil {
			return text, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		f.log.Warn("transcriber failed, trying next",
			slog.String("video_id", audio.VideoID), slog.Int("step", i), slog.Any("error", err))
	}
	if len(errs) == 0 {
		return "", errors.New("no transcriber configured")
	}
	return "", errors.Join(errs...)
}
