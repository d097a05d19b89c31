// go_shorts is a short-video trust analysis service.
//
// Videos submitted over REST or MCP are downloaded, transcribed,
// fact-checked, inspected for channel and visual signals, and summarised
// into a streamed credibility verdict that is cached per video.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-kit/llm"
	"github.com/anatolykoptev/go-mcpserver"
	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/anatolykoptev/go-stealth/proxypool"
	twitter "github.com/anatolykoptev/go-twitter"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_shorts/internal/engine"
	"github.com/anatolykoptev/go_shorts/internal/engine/sources"
	"github.com/anatolykoptev/go_shorts/internal/pipeline"
	"github.com/anatolykoptev/go_shorts/internal/shortserver"
	"github.com/anatolykoptev/go_shorts/internal/toolutil"
)

var (
	version  = "dev"
	mcpPort  = env.Str("MCP_PORT", "8891")
	httpPort = env.Str("HTTP_PORT", "8080")
)

func main() {
	c := initEngine()

	store, err := engine.OpenStore(context.Background(), engine.StoreConfig{
		Backend:     c.CacheBackend,
		DataDir:     c.DataDir,
		File:        c.CacheFile,
		DatabaseURL: c.DatabaseURL,
		RedisURL:    c.RedisURL,
	})
	if err != nil {
		slog.Error("cache backend init failed", slog.String("backend", c.CacheBackend), slog.Any("error", err))
		os.Exit(1)
	}
	cache := engine.NewVerdictCache(store, c.CacheMaxEntries, slog.Default())
	defer cache.Close()

	if _, err := sources.CheckDependencies(c.YTDLPBin, c.FFmpegBin); err != nil {
		slog.Warn("media tools unavailable, acquisitions will fail", slog.Any("error", err))
	}

	coord, err := pipeline.NewCoordinator(coordinatorConfig(c), buildAdapters(c), cache, slog.Default())
	if err != nil {
		slog.Error("coordinator init failed", slog.Any("error", err))
		_ = cache.Close()
		os.Exit(1)
	}
	defer coord.Close()

	api := shortserver.NewAPI(coord, slog.Default())
	httpSrv := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http api listening", slog.String("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http api failed", slog.Any("error", err))
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(ctx)
	}()

	slog.Info("starting go_shorts",
		slog.String("mcp_port", mcpPort),
		slog.String("cache", c.CacheBackend),
		slog.String("fact_backend", c.FactCheckBackend),
	)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_shorts",
		Version: version,
	}, nil)

	shortserver.RegisterTools(server, coord)
	slog.Info("tools registered", slog.Int("count", 3))

	if err := mcpserver.Run(server, mcpserver.Config{
		Name:         "go_shorts",
		Version:      version,
		Port:         mcpPort,
		WriteTimeout: 600 * time.Second,
		Metrics:      engine.FormatMetrics,
	}); err != nil {
		slog.Error("server failed", slog.Any("error", err))
	}
}

func initEngine() engine.Config {
	c := engine.Config{
		DataDir:            env.Str("DATA_DIR", "./data"),
		LLMAPIKey:          env.Str("LLM_API_KEY", ""),
		LLMAPIKeyFallbacks: env.List("LLM_API_KEY_FALLBACKS", ""),
		LLMAPIBase:         env.Str("LLM_API_BASE", "https://generativelanguage.googleapis.com/v1beta/openai"),
		LLMModel:           env.Str("LLM_MODEL", "gemini-2.5-flash"),
		LLMTemperature:     env.Float("LLM_TEMPERATURE", 0.1),
		LLMMaxTokens:       env.Int("LLM_MAX_TOKENS", 8192),
		LLMRequestsPerSec:  env.Float("LLM_RPS", 2),

		TranscriptionURL:      env.Str("TRANSCRIPTION_URL", "http://127.0.0.1:8000"),
		TranscriptionModel:    env.Str("TRANSCRIPTION_MODEL", "mistralai/Voxtral-Mini-3B-2507"),
		TranscriptionLanguage: toolutil.NormLang(env.Str("TRANSCRIPTION_LANGUAGE", "auto")),
		CaptionFallback:       envBool("TRANSCRIBE_FALLBACK_CAPTIONS", true),

		GeminiAPIKey: env.Str("GEMINI_API_KEY", ""),
		GeminiModel:  env.Str("GEMINI_MODEL", "gemini-2.5-flash"),

		FactCheckBackend:    env.Str("FACTCHECK_BACKEND", "perplexity"),
		PerplexityAPIKey:    env.Str("PERPLEXITY_API_KEY", ""),
		PerplexityModel:     env.Str("PERPLEXITY_MODEL", "sonar-pro"),
		SearxngURL:          env.Str("SEARXNG_URL", "http://127.0.0.1:8888"),
		FactCheckMaxResults: toolutil.Clamp(env.Int("FACTCHECK_MAX_RESULTS", 7), 7, 1, 20),
		MaxContentChars:     env.Int("MAX_CONTENT_CHARS", 6000),
		FetchTimeout:        env.Duration("FETCH_TIMEOUT", 10*time.Second),

		YTDLPBin:         env.Str("YTDLP_BIN", "yt-dlp"),
		FFmpegBin:        env.Str("FFMPEG_BIN", "ffmpeg"),
		YTDLPCookies:     env.Str("YTDLP_COOKIES", ""),
		ChannelMaxRecent: env.Int("CHANNEL_MAX_RECENT", 5),

		CacheBackend:    env.Str("CACHE_BACKEND", "file"),
		CacheFile:       env.Str("CACHE_FILE", ""),
		DatabaseURL:     env.Str("DATABASE_URL", ""),
		RedisURL:        env.Str("REDIS_URL", ""),
		CacheMaxEntries: env.Int("CACHE_MAX_ENTRIES", 1000),

		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}
	c.SynthAPIBase = env.Str("SYNTH_API_BASE", c.LLMAPIBase)
	c.SynthAPIKey = env.Str("SYNTH_API_KEY", c.LLMAPIKey)
	c.SynthModel = env.Str("SYNTH_MODEL", c.LLMModel)

	var opts []stealth.ClientOption
	opts = append(opts, stealth.WithTimeout(15))

	if apiKey := env.Str("WEBSHARE_API_KEY", ""); apiKey != "" {
		pool, err := proxypool.NewWebshare(apiKey)
		if err != nil {
			slog.Warn("proxy pool init failed, running without proxy", slog.Any("error", err))
		} else {
			opts = append(opts, stealth.WithProxyPool(pool))
			slog.Info("proxy pool initialized", slog.Int("proxies", pool.Len()))
		}
	}

	bc, err := stealth.NewClient(opts...)
	if err != nil {
		slog.Error("stealth client init failed", slog.Any("error", err))
	} else {
		c.BrowserClient = bc
		slog.Info("stealth browser client initialized")
	}

	// Twitter client (optional, guest mode if no accounts configured)
	accounts := twitter.ParseAccounts(env.Str("TWITTER_ACCOUNTS", ""))
	openCount := 2
	if len(accounts) > 0 {
		openCount = 0
	}
	tw, err := twitter.NewClient(twitter.ClientConfig{
		Accounts:         accounts,
		OpenAccountCount: openCount,
	})
	if err != nil {
		slog.Warn("twitter client init failed, channel mentions disabled", slog.Any("error", err))
	} else {
		c.TwitterClient = tw
		slog.Info("twitter client ready", slog.Int("pool_size", tw.Pool().Size()))
	}

	c.LLMClient = llm.NewClient(c.LLMAPIBase, c.LLMAPIKey, c.LLMModel,
		llm.WithFallbackKeys(c.LLMAPIKeyFallbacks),
		llm.WithMaxTokens(c.LLMMaxTokens),
		llm.WithTemperature(c.LLMTemperature),
		llm.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
	)

	engine.Init(c)
	return c
}

func coordinatorConfig(c engine.Config) pipeline.CoordinatorConfig {
	branch := env.Duration("BRANCH_TIMEOUT", 60*time.Second)
	return pipeline.CoordinatorConfig{
		MaxConcurrentVideos: env.Int("MAX_CONCURRENT_VIDEOS", pipeline.DefaultMaxConcurrentVideos),
		Policy:              pipeline.Policy(env.Str("CACHE_POLICY", string(pipeline.PolicySkip))),
		ProgressRetention:   env.Duration("PROGRESS_RETENTION", 10*time.Minute),
		FailureRetention:    env.Duration("FAILURE_RETENTION", time.Hour),
		Language:            c.TranscriptionLanguage,
		FieldLimit:          env.Int("SYNTH_FIELD_LIMIT", pipeline.DefaultFieldLimit),
		Timeouts: pipeline.Timeouts{
			Acquire:    env.Duration("ACQUIRE_TIMEOUT", 180*time.Second),
			Audio:      env.Duration("AUDIO_TIMEOUT", branch),
			Transcribe: env.Duration("TRANSCRIBE_TIMEOUT", branch),
			FactCheck:  env.Duration("FACTCHECK_TIMEOUT", branch),
			Channel:    env.Duration("CHANNEL_TIMEOUT", branch),
			Content:    env.Duration("CONTENT_TIMEOUT", branch),
			Synthesis:  env.Duration("SYNTHESIS_TIMEOUT", 120*time.Second),
		},
	}
}

func buildAdapters(c engine.Config) pipeline.Adapters {
	media := sources.NewMediaStore(sources.MediaConfig{
		DataDir: c.DataDir,
		YTDLP:   c.YTDLPBin,
		FFmpeg:  c.FFmpegBin,
		Cookies: c.YTDLPCookies,
	})

	chain := []sources.TextTranscriber{
		sources.NewWhisperTranscriber(c.TranscriptionURL, c.TranscriptionModel, env.Str("TRANSCRIPTION_API_KEY", ""), c.HTTPClient),
	}
	if c.CaptionFallback {
		chain = append(chain, sources.CaptionTranscriber{})
	}

	var mentions sources.MentionSearcher
	if c.TwitterClient != nil {
		mentions = sources.TwitterMentions{Client: c.TwitterClient}
	}

	ad := pipeline.Adapters{
		Source:      media,
		Audio:       media,
		Transcriber: sources.NewFallbackTranscriber(slog.Default(), chain...),
		Channel: sources.NewChannelInspector(sources.ChannelConfig{
			YTDLP:     c.YTDLPBin,
			Cookies:   c.YTDLPCookies,
			MaxRecent: c.ChannelMaxRecent,
			Mentions:  mentions,
		}),
		Streamer: engine.NewChatStreamer(c.SynthAPIBase, c.SynthAPIKey, c.SynthModel, &http.Client{}).
			WithSampling(c.LLMTemperature, c.LLMMaxTokens),
	}

	if c.GeminiAPIKey != "" {
		ad.Content = sources.NewGeminiAnalyzer(sources.GeminiConfig{
			APIKey: c.GeminiAPIKey,
			Model:  c.GeminiModel,
			Client: &http.Client{Timeout: 5 * time.Minute},
		})
	} else {
		slog.Warn("GEMINI_API_KEY not set, content analysis disabled")
	}

	switch c.FactCheckBackend {
	case "searxng":
		ad.Facts = sources.SearxngSearcher{
			Complete:   engine.CompleteWith(c.LLMClient),
			MaxResults: c.FactCheckMaxResults,
		}
	default:
		if c.PerplexityAPIKey == "" {
			slog.Warn("PERPLEXITY_API_KEY not set, fact search disabled")
			break
		}
		pplx := llm.NewClient("https://api.perplexity.ai", c.PerplexityAPIKey, c.PerplexityModel,
			llm.WithMaxTokens(4096),
			llm.WithTemperature(0.1),
			llm.WithHTTPClient(&http.Client{Timeout: 90 * time.Second}),
		)
		ad.Facts = sources.PerplexitySearcher{
			Complete:   engine.CompleteWith(pplx),
			MaxResults: c.FactCheckMaxResults,
		}
	}
	return ad
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(env.Str(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return v
}
