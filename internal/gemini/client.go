package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"packshot-studio/internal/httpclient"
)

var (
	ErrNoAPIKey      = errors.New("gemini: no API key configured")
	ErrEmptyResponse = errors.New("gemini: response carried no usable content")
)

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	apiKey     string
	baseURL    string
	apiVersion string
	rest       *resty.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		apiVersion: apiVersion,
		rest:       httpclient.NewREST(opts.HTTPClient),
		logger:     logger,
	}
}

// WithAPIKey returns a copy of c that authenticates with key. The transport
// is shared.
func (c *Client) WithAPIKey(key string) *Client {
	clone := *c
	clone.apiKey = strings.TrimSpace(key)
	return &clone
}

func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

// GenerateText runs a single generateContent call with prompt followed by the
// given images and returns the text of the first candidate.
func (c *Client) GenerateText(ctx context.Context, model, prompt string, images ...InlineImage) (string, error) {
	parts := []part{{Text: prompt}}
	for _, img := range images {
		parts = append(parts, part{InlineData: &blob{
			MimeType: img.MimeType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}

	req := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	}

	var decoded generateContentResponse
	if err := c.post(ctx, model, "generateContent", req, &decoded); err != nil {
		return "", err
	}

	if len(decoded.Candidates) == 0 {
		return "", ErrEmptyResponse
	}

	var b strings.Builder
	for _, p := range decoded.Candidates[0].Content.Parts {
		if p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// PredictImage asks an Imagen model for one image and returns its raw bytes.
func (c *Client) PredictImage(ctx context.Context, model, prompt, aspectRatio string) ([]byte, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("prompt is empty")
	}

	req := predictRequest{
		Instances: []predictInstance{{Prompt: prompt}},
		Parameters: predictParameters{
			SampleCount: 1,
			AspectRatio: aspectRatio,
		},
	}

	var decoded predictResponse
	if err := c.post(ctx, model, "predict", req, &decoded); err != nil {
		return nil, err
	}

	if len(decoded.Predictions) == 0 || decoded.Predictions[0].BytesBase64Encoded == "" {
		return nil, ErrEmptyResponse
	}

	data, err := base64.StdEncoding.DecodeString(decoded.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return nil, fmt.Errorf("decode prediction bytes: %w", err)
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, model, method string, payload, out any) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}

	url := fmt.Sprintf("%s/%s/models/%s:%s", c.baseURL, c.apiVersion, model, method)
	started := time.Now()

	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", c.apiKey).
		SetBody(payload).
		Post(url)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}

	c.logger.Debug("gemini call",
		"model", model,
		"method", method,
		"status", resp.StatusCode(),
		"dur_ms", time.Since(started).Milliseconds(),
	)

	if resp.IsError() {
		return &APIError{
			StatusCode: resp.StatusCode(),
			Status:     resp.Status(),
			Message:    errorMessage(resp.Body()),
		}
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
