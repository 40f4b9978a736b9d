package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"packshot-studio/internal/gemini"
	"packshot-studio/internal/media"
	"packshot-studio/internal/metrics"
	"packshot-studio/internal/preview"
)

var ErrNoCredential = errors.New("no credential configured")

// Stage names the step an analysis failed at.
type Stage string

const (
	StageCredential Stage = "credential"
	StageTransport  Stage = "transport"
	StageResponse   Stage = "response"
	StageParse      Stage = "parse"
)

// Failure is returned for every unsuccessful analysis. Callers treat it as
// "no suggestion" and carry on.
type Failure struct {
	Stage Stage
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("analysis %s: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Skipped reports whether the analysis never ran for lack of a key.
func (f *Failure) Skipped() bool {
	return f.Stage == StageCredential
}

// Result is the parsed model answer. SuggestedStyleID is empty when the
// suggestion matched no catalog entry.
type Result struct {
	VisualDescription string `json:"visualDescription"`
	SuggestedStyle    string `json:"suggestedStyle"`
	SuggestedStyleID  string `json:"suggestedStyleId,omitempty"`
	Caption           string `json:"caption"`
}

type Options struct {
	Client  *gemini.Client
	Model   string
	Catalog preview.Catalog
	Logger  *slog.Logger
}

type Analyzer struct {
	client  *gemini.Client
	model   string
	catalog preview.Catalog
	logger  *slog.Logger
}

func New(opts Options) *Analyzer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	catalog := opts.Catalog
	if catalog.Len() == 0 {
		catalog = preview.DefaultCatalog()
	}
	client := opts.Client
	if client == nil {
		client = gemini.New(gemini.Options{})
	}
	return &Analyzer{
		client:  client,
		model:   model,
		catalog: catalog,
		logger:  logger,
	}
}

// Analyze sends img and instruction to the vision model once. Every error is
// a *Failure.
func (a *Analyzer) Analyze(ctx context.Context, credential string, img media.SourceImage, instruction string) (Result, error) {
	res, err := a.analyze(ctx, credential, img, instruction)
	if err != nil {
		var f *Failure
		if errors.As(err, &f) && f.Skipped() {
			metrics.RecordAnalysis("skipped")
		} else {
			metrics.RecordAnalysis("failed")
		}
		a.logger.Warn("analysis failed", "model", a.model, "err", err)
		return Result{}, err
	}
	metrics.RecordAnalysis("success")
	return res, nil
}

func (a *Analyzer) analyze(ctx context.Context, credential string, img media.SourceImage, instruction string) (Result, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Result{}, &Failure{Stage: StageCredential, Err: ErrNoCredential}
	}
	if img.IsZero() {
		return Result{}, &Failure{Stage: StageResponse, Err: media.ErrEmpty}
	}

	started := time.Now()
	text, err := a.client.WithAPIKey(credential).GenerateText(ctx, a.model, instruction, gemini.InlineImage{
		MimeType: img.MimeType(),
		Data:     img.Bytes(),
	})
	if err != nil {
		var apiErr *gemini.APIError
		if errors.As(err, &apiErr) || errors.Is(err, gemini.ErrEmptyResponse) {
			return Result{}, &Failure{Stage: StageResponse, Err: err}
		}
		return Result{}, &Failure{Stage: StageTransport, Err: err}
	}

	res, err := ParseAnswer(text)
	if err != nil {
		return Result{}, &Failure{Stage: StageParse, Err: err}
	}
	if s, ok := a.catalog.MatchSuggestion(res.SuggestedStyle); ok {
		res.SuggestedStyleID = s.ID
	}

	a.logger.Info("analysis done",
		"model", a.model,
		"suggested", res.SuggestedStyle,
		"style_id", res.SuggestedStyleID,
		"dur_ms", time.Since(started).Milliseconds(),
	)
	return res, nil
}

type rawAnswer struct {
	VisualDescription string `json:"visualDescription"`
	SuggestedStyle    string `json:"suggestedStyle"`
	Caption           string `json:"caption"`
	InstagramCaption  string `json:"instagramCaption"`
}

// ParseAnswer extracts the JSON object from a model answer, tolerating
// markdown fences and chatter around the object.
func ParseAnswer(text string) (Result, error) {
	cleaned := stripFences(text)
	if cleaned == "" {
		return Result{}, errors.New("empty answer")
	}

	var raw rawAnswer
	err := json.Unmarshal([]byte(cleaned), &raw)
	if err != nil {
		start := strings.IndexByte(cleaned, '{')
		end := strings.LastIndexByte(cleaned, '}')
		if start < 0 || end <= start {
			return Result{}, fmt.Errorf("decode answer: %w", err)
		}
		raw = rawAnswer{}
		if err2 := json.Unmarshal([]byte(cleaned[start:end+1]), &raw); err2 != nil {
			return Result{}, fmt.Errorf("decode answer: %w", err2)
		}
	}

	caption := strings.TrimSpace(raw.Caption)
	if caption == "" {
		caption = strings.TrimSpace(raw.InstagramCaption)
	}
	return Result{
		VisualDescription: strings.TrimSpace(raw.VisualDescription),
		SuggestedStyle:    strings.TrimSpace(raw.SuggestedStyle),
		Caption:           caption,
	}, nil
}

func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```JSON", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}
