package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

const (
	defaultGeminiBase  = "https://generativelanguage.googleapis.com"
	defaultGeminiModel = "gemini-2.5-flash"
)

// GeminiConfig configures GeminiAnalyzer.
type GeminiConfig struct {
	APIKey       string
	Model        string
	BaseURL      string        // default generativelanguage.googleapis.com
	PollInterval time.Duration // default 2s
	Client       *http.Client
	Logger       *slog.Logger
}

// GeminiAnalyzer uploads a video through the Gemini Files API and asks the
// model for an integrity analysis of what is seen and heard.
type GeminiAnalyzer struct {
	cfg GeminiConfig
	log *slog.Logger
}

func NewGeminiAnalyzer(gc GeminiConfig) *GeminiAnalyzer {
	if gc.Model == "" {
		gc.Model = defaultGeminiModel
	}
	if gc.BaseURL == "" {
		gc.BaseURL = defaultGeminiBase
	}
	gc.BaseURL = strings.TrimRight(gc.BaseURL, "/")
	if gc.PollInterval <= 0 {
		gc.PollInterval = 2 * time.Second
	}
	if gc.Client == nil {
		gc.Client = &http.Client{Timeout: 5 * time.Minute}
	}
	if gc.Logger == nil {
		gc.Logger = slog.Default()
	}
	return &GeminiAnalyzer{cfg: gc, log: gc.Logger.With("component", "content")}
}

type geminiFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	State    string `json:"state"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type geminiPart struct {
	Text     string          `json:"text,omitempty"`
	FileData *geminiFileData `json:"file_data,omitempty"`
}

type geminiFileData struct {
	MIMEType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type generateReq struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
}

type generateResp struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// AnalyzeContent uploads media, waits for it to become ACTIVE, runs the
// analysis prompt and deletes the uploaded file.
func (g *GeminiAnalyzer) AnalyzeContent(ctx context.Context, media engine.MediaHandle) (string, error) {
	if g.cfg.APIKey == "" {
		return "", errors.New("gemini api key not configured")
	}
	file, err := g.upload(ctx, media)
	if err != nil {
		return "", fmt.Errorf("gemini upload: %w", err)
	}
	defer func() {
		// Cleanup outlives the analysis budget.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := g.deleteFile(dctx, file.Name); err != nil {
			g.log.Warn("gemini file delete failed", slog.String("file", file.Name), slog.Any("error", err))
		}
	}()

	file, err = g.waitActive(ctx, file)
	if err != nil {
		return "", fmt.Errorf("gemini processing: %w", err)
	}
	text, err := g.generate(ctx, file)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return text, nil
}

func (g *GeminiAnalyzer) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)
	return g.cfg.Client.Do(req)
}

func (g *GeminiAnalyzer) upload(ctx context.Context, media engine.MediaHandle) (geminiFile, error) {
	data, err := os.ReadFile(media.Path)
	if err != nil {
		return geminiFile{}, err
	}
	mime := media.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}

	meta, _ := json.Marshal(map[string]any{"file": map[string]string{"display_name": media.VideoID}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/upload/v1beta/files", bytes.NewReader(meta))
	if err != nil {
		return geminiFile{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.Itoa(len(data)))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", mime)
	resp, err := g.do(req)
	if err != nil {
		return geminiFile{}, err
	}
	drainClose(resp)
	if resp.StatusCode != http.StatusOK {
		return geminiFile{}, fmt.Errorf("start upload: status %d", resp.StatusCode)
	}
	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return geminiFile{}, errors.New("start upload: no upload url")
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return geminiFile{}, err
	}
	req.Header.Set("X-Goog-Upload-Offset", "0")
	req.Header.Set("X-Goog-Upload-Command", "upload, finalize")
	var out struct {
		File geminiFile `json:"file"`
	}
	if err := g.doJSON(req, &out); err != nil {
		return geminiFile{}, err
	}
	if out.File.Name == "" {
		return geminiFile{}, errors.New("upload returned no file name")
	}
	return out.File, nil
}

func (g *GeminiAnalyzer) waitActive(ctx context.Context, file geminiFile) (geminiFile, error) {
	for {
		switch file.State {
		case "ACTIVE":
			return file, nil
		case "FAILED":
			if file.Error != nil {
				return file, errors.New(file.Error.Message)
			}
			return file, errors.New("file processing failed")
		}
		select {
		case <-ctx.Done():
			return file, ctx.Err()
		case <-time.After(g.cfg.PollInterval):
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"/v1beta/"+file.Name, nil)
		if err != nil {
			return file, err
		}
		var next geminiFile
		if err := g.doJSON(req, &next); err != nil {
			return file, err
		}
		file = next
	}
}

func (g *GeminiAnalyzer) generate(ctx context.Context, file geminiFile) (string, error) {
	var body generateReq
	body.Contents = append(body.Contents, struct {
		Parts []geminiPart `json:"parts"`
	}{Parts: []geminiPart{
		{FileData: &geminiFileData{MIMEType: file.MIMEType, FileURI: file.URI}},
		{Text: engine.ContentAnalysisPrompt},
	}})
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.cfg.BaseURL, g.cfg.Model)
	var out generateResp
	_, err = engine.RetryDo(ctx, engine.DefaultRetryConfig, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		return struct{}{}, g.doJSON(req, &out)
	})
	if err != nil {
		return "", err
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("blocked: %s", out.PromptFeedback.BlockReason)
	}
	var sb strings.Builder
	for _, c := range out.Candidates {
		for _, p := range c.Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errors.New("empty response")
	}
	return text, nil
}

func (g *GeminiAnalyzer) deleteFile(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, g.cfg.BaseURL+"/v1beta/"+name, nil)
	if err != nil {
		return err
	}
	resp, err := g.do(req)
	if err != nil {
		return err
	}
	drainClose(resp)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// doJSON sends req and decodes a 200 JSON body into v. Retryable statuses
// surface as transient errors.
func (g *GeminiAnalyzer) doJSON(req *http.Request, v any) error {
	resp, err := g.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("status %d: %s", resp.StatusCode, engine.TruncateRunes(string(raw), 200, "..."))
		if engine.IsRetryableStatus(resp.StatusCode) {
			return engine.Transient(err)
		}
		return err
	}
	return json.Unmarshal(raw, v)
}

func drainClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
}
