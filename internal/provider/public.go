package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"packshot-studio/internal/httpclient"
)

const maxSeed = 1_000_000

type PublicOptions struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	// Seed returns a value in [0, 1_000_000). Defaults to a uniform random draw.
	Seed   func() int
	Logger *slog.Logger
}

// Public is the keyless fallback: a GET whose path carries the prompt and
// whose body is the raw image.
type Public struct {
	baseURL string
	model   string
	seed    func() int
	rest    *resty.Client
	logger  *slog.Logger
}

func NewPublic(opts PublicOptions) *Public {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://image.pollinations.ai"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "flux"
	}
	seed := opts.Seed
	if seed == nil {
		seed = func() int { return rand.Intn(maxSeed) }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Public{
		baseURL: baseURL,
		model:   model,
		seed:    seed,
		rest:    httpclient.NewREST(opts.HTTPClient),
		logger:  logger,
	}
}

func (p *Public) ID() string            { return IDFallback }
func (p *Public) Model() string         { return p.model }
func (p *Public) NeedsCredential() bool { return false }

// URL builds the request URL for req with the given seed.
func (p *Public) URL(req Request, seed int) string {
	width, height := req.Width, req.Height
	if width <= 0 {
		width = CanvasSize
	}
	if height <= 0 {
		height = CanvasSize
	}

	q := url.Values{}
	q.Set("seed", strconv.Itoa(seed))
	q.Set("width", strconv.Itoa(width))
	q.Set("height", strconv.Itoa(height))
	q.Set("nologo", "true")
	q.Set("model", p.model)
	q.Set("enhance", "false")

	return fmt.Sprintf("%s/prompt/%s?%s", p.baseURL, encodeComponent(req.Prompt), q.Encode())
}

func (p *Public) Generate(ctx context.Context, req Request, _ string) ([]byte, error) {
	target := p.URL(req, p.seed())
	p.logger.Debug("fallback request", "provider", p.ID(), "model", p.model)

	resp, err := p.rest.R().
		SetContext(ctx).
		SetHeader("Accept", "image/*").
		Get(target)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if resp.IsError() {
		body := strings.TrimSpace(string(resp.Body()))
		if len(body) > 200 {
			body = body[:200] + "..."
		}
		return nil, &StatusError{StatusCode: resp.StatusCode(), Status: resp.Status(), Body: body}
	}
	return resp.Body(), nil
}

// encodeComponent percent-encodes s so that it is safe as one path segment;
// spaces become %20.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
