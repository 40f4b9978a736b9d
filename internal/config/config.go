package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	GeminiBaseURL    string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	GeminiAPIVersion string `env:"GEMINI_API_VERSION" envDefault:"v1beta"`

	AnalysisModel        string `env:"ANALYSIS_MODEL" envDefault:"gemini-2.5-flash"`
	ImagenModel          string `env:"IMAGEN_MODEL" envDefault:"imagen-4.0-generate-001"`
	ImagenSecondaryModel string `env:"IMAGEN_SECONDARY_MODEL" envDefault:"imagen-3.0-generate-002"`

	FallbackBaseURL string `env:"FALLBACK_IMAGE_BASE_URL" envDefault:"https://image.pollinations.ai"`
	FallbackModel   string `env:"FALLBACK_IMAGE_MODEL" envDefault:"flux"`

	CaptionLanguage string `env:"CAPTION_LANGUAGE" envDefault:"English"`
	BrandName       string `env:"BRAND_NAME"`

	JPEGQuality int    `env:"JPEG_QUALITY" envDefault:"90"`
	OutputDir   string `env:"OUTPUT_DIR" envDefault:"."`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Debug    bool   `env:"DEBUG" envDefault:"false"`

	PreferIPv4      bool          `env:"PREFER_IPV4" envDefault:"true"`
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" envDefault:"180s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"240s"`
	AnalysisTimeout time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"60s"`

	TelegramToken      string        `env:"TELEGRAM_BOT_TOKEN"`
	MaxConcurrent      int           `env:"MAX_CONCURRENT" envDefault:"4"`
	MediaGroupDebounce time.Duration `env:"MEDIA_GROUP_DEBOUNCE" envDefault:"1200ms"`
	SessionIdleTTL     time.Duration `env:"SESSION_IDLE_TTL" envDefault:"2h"`
	MetricsAddr        string        `env:"METRICS_ADDR"`
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}

	cfg.GeminiAPIKey = strings.TrimSpace(cfg.GeminiAPIKey)
	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)
	cfg.GeminiBaseURL = strings.TrimRight(strings.TrimSpace(cfg.GeminiBaseURL), "/")
	cfg.GeminiAPIVersion = strings.TrimSpace(cfg.GeminiAPIVersion)
	cfg.FallbackBaseURL = strings.TrimRight(strings.TrimSpace(cfg.FallbackBaseURL), "/")
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.BrandName = strings.TrimSpace(cfg.BrandName)
	cfg.CaptionLanguage = strings.TrimSpace(cfg.CaptionLanguage)
	cfg.MetricsAddr = strings.TrimSpace(cfg.MetricsAddr)

	if cfg.CaptionLanguage == "" {
		cfg.CaptionLanguage = "English"
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 240 * time.Second
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = 60 * time.Second
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		cfg.OutputDir = "."
	}

	return cfg, nil
}

// HasCredential reports whether a Gemini key is configured.
func (c Config) HasCredential() bool {
	return c.GeminiAPIKey != ""
}

func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}
