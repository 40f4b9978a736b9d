package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"packshot-studio/internal/media"
	"packshot-studio/internal/metrics"
)

// Step is one fallible strategy in an ordered list.
type Step[T any] func(ctx context.Context) (T, error)

// FirstSuccess runs steps in order and returns the first successful value
// with its index. The errors of every failed step are returned in order; the
// index is -1 when nothing succeeded. Steps never run concurrently.
func FirstSuccess[T any](ctx context.Context, steps []Step[T]) (T, int, []error) {
	var zero T
	var errs []error
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return zero, -1, errs
		}
		v, err := step(ctx)
		if err == nil {
			return v, i, errs
		}
		errs = append(errs, err)
	}
	return zero, -1, errs
}

type ChainOptions struct {
	Providers []Provider
	Logger    *slog.Logger
}

// Chain walks its providers in order until one returns decodable bytes.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

func NewChain(opts ChainOptions) *Chain {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	providers := make([]Provider, len(opts.Providers))
	copy(providers, opts.Providers)
	return &Chain{providers: providers, logger: logger}
}

func (c *Chain) Providers() []Provider {
	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// Generate returns the first decodable background. Credential-requiring
// providers are skipped when credential is blank. A *ChainError is returned
// when every provider fails.
func (c *Chain) Generate(ctx context.Context, req Request, credential string) (Result, error) {
	steps := make([]Step[Result], 0, len(c.providers))
	for _, p := range c.providers {
		steps = append(steps, c.step(p, req, credential))
	}

	res, idx, errs := FirstSuccess(ctx, steps)

	attempts := make([]*AttemptError, 0, len(errs))
	for i, err := range errs {
		var ae *AttemptError
		if !errors.As(err, &ae) {
			p := c.providers[min(i, len(c.providers)-1)]
			ae = newAttemptError(p, err)
		}
		attempts = append(attempts, ae)
	}

	if idx < 0 {
		if len(attempts) == 0 {
			return Result{}, &ChainError{}
		}
		return Result{}, &ChainError{Attempts: attempts}
	}

	res.Attempts = attempts
	if res.Degraded() {
		c.logger.Warn("background generated with fallback",
			"provider", res.ProviderID,
			"model", res.Model,
			"diagnostic", res.Diagnostic(),
		)
	}
	return res, nil
}

func (c *Chain) step(p Provider, req Request, credential string) Step[Result] {
	return func(ctx context.Context) (Result, error) {
		if p.NeedsCredential() && credential == "" {
			metrics.RecordProviderAttempt(p.ID(), p.Model(), "skipped", 0)
			c.logger.Info("provider skipped", "provider", p.ID(), "model", p.Model())
			return Result{}, newAttemptError(p, ErrNoCredential)
		}

		started := time.Now()
		data, err := p.Generate(ctx, req, credential)
		if err == nil && len(data) == 0 {
			err = ErrEmptyImage
		}
		if err == nil {
			err = checkDecodable(data)
		}
		dur := time.Since(started)

		if err != nil {
			metrics.RecordProviderAttempt(p.ID(), p.Model(), "failed", dur.Seconds())
			ae := newAttemptError(p, err)
			c.logger.Warn("provider failed",
				"provider", p.ID(),
				"model", p.Model(),
				"status", ae.StatusCode,
				"dur_ms", dur.Milliseconds(),
				"err", err,
			)
			return Result{}, ae
		}

		metrics.RecordProviderAttempt(p.ID(), p.Model(), "success", dur.Seconds())
		c.logger.Info("provider succeeded",
			"provider", p.ID(),
			"model", p.Model(),
			"bytes", len(data),
			"dur_ms", dur.Milliseconds(),
		)
		return Result{
			Image:      data,
			MimeType:   media.Sniff(data),
			ProviderID: p.ID(),
			Model:      p.Model(),
		}, nil
	}
}

func checkDecodable(data []byte) error {
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return errors.Join(ErrUndecodable, err)
	}
	return nil
}
