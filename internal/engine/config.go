package engine

import (
	"net/http"
	"time"

	"github.com/anatolykoptev/go-kit/llm"
	twitter "github.com/anatolykoptev/go-twitter"
)

// Config holds all engine configuration, injected from main.
type Config struct {
	DataDir string

	LLMAPIKey          string
	LLMAPIKeyFallbacks []string
	LLMAPIBase         string
	LLMModel           string
	LLMTemperature     float64
	LLMMaxTokens       int
	LLMRequestsPerSec  float64

	SynthAPIBase string
	SynthAPIKey  string
	SynthModel   string

	TranscriptionURL      string
	TranscriptionModel    string
	TranscriptionLanguage string
	CaptionFallback       bool

	GeminiAPIKey string
	GeminiModel  string

	FactCheckBackend    string // "perplexity" (default) or "searxng"
	PerplexityAPIKey    string
	PerplexityModel     string
	SearxngURL          string
	FactCheckMaxResults int
	MaxContentChars     int
	FetchTimeout        time.Duration

	YTDLPBin         string
	FFmpegBin        string
	YTDLPCookies     string
	ChannelMaxRecent int

	CacheBackend    string // "file" (default), "sqlite", "postgres", "redis"
	CacheFile       string
	DatabaseURL     string
	RedisURL        string
	CacheMaxEntries int

	HTTPClient    *http.Client
	LLMClient     *llm.Client
	BrowserClient *BrowserClient  // nil = plain HTTP for channel pages
	TwitterClient *twitter.Client // nil = no social signal for channels
}

var cfg Config

// Cfg exposes the engine configuration for sub-packages (sources, pipeline).
// Always points to the current cfg value.
var Cfg = &cfg

// Init initializes the engine with the given configuration.
func Init(c Config) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.MaxContentChars <= 0 {
		c.MaxContentChars = 6000
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	cfg = c
	Cfg = &cfg
	initLLMLimiter(c.LLMRequestsPerSec)
}
