package app

import (
	"io"
	"log/slog"
	"net/http"

	"packshot-studio/internal/analyzer"
	"packshot-studio/internal/compositor"
	"packshot-studio/internal/config"
	"packshot-studio/internal/gemini"
	"packshot-studio/internal/httpclient"
	"packshot-studio/internal/pipeline"
	"packshot-studio/internal/preview"
	"packshot-studio/internal/provider"
)

// App holds the process-wide components shared by every flow.
type App struct {
	Config      config.Config
	Logger      *slog.Logger
	HTTPClient  *http.Client
	Gemini      *gemini.Client
	Catalog     preview.Catalog
	Analyzer    *analyzer.Analyzer
	Chain       *provider.Chain
	Compositor  *compositor.Compositor
	Instruction string
}

func New(cfg config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	gem := gemini.New(gemini.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		HTTPClient: httpClient,
		Logger:     logger,
	})

	catalog := preview.DefaultCatalog()

	fallback := provider.NewPublic(provider.PublicOptions{
		BaseURL:    cfg.FallbackBaseURL,
		Model:      cfg.FallbackModel,
		HTTPClient: httpClient,
		Logger:     logger,
	})

	return &App{
		Config:     cfg,
		Logger:     logger,
		HTTPClient: httpClient,
		Gemini:     gem,
		Catalog:    catalog,
		Analyzer: analyzer.New(analyzer.Options{
			Client:  gem,
			Model:   cfg.AnalysisModel,
			Catalog: catalog,
			Logger:  logger,
		}),
		Chain: provider.NewChain(provider.ChainOptions{
			Providers: provider.Standard(gem, cfg.ImagenModel, cfg.ImagenSecondaryModel, fallback),
			Logger:    logger,
		}),
		Compositor: compositor.New(compositor.Options{
			JPEGQuality: cfg.JPEGQuality,
			Logger:      logger,
		}),
		Instruction: preview.AnalysisInstruction(catalog, preview.InstructionOptions{
			Language: cfg.CaptionLanguage,
			Brand:    cfg.BrandName,
		}),
	}
}

// NewFlow returns an orchestrator wired to the shared components. An empty
// id gets a random one.
func (a *App) NewFlow(id string) *pipeline.Orchestrator {
	return pipeline.New(pipeline.Options{
		ID:              id,
		Analyzer:        a.Analyzer,
		Generator:       a.Chain,
		Compositor:      a.Compositor,
		Catalog:         a.Catalog,
		Instruction:     a.Instruction,
		Credential:      a.Config.GeminiAPIKey,
		AnalysisTimeout: a.Config.AnalysisTimeout,
		Logger:          a.Logger,
	})
}

// NewLogger builds the JSON logger used by both binaries.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
	}))
}
