package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"packshot-studio/internal/gemini"
)

const (
	IDPrimary  = "primary"
	IDFallback = "fallback"

	CanvasSize = 1080
)

var (
	ErrNoCredential = errors.New("no credential configured")
	ErrUndecodable  = errors.New("image bytes could not be decoded")
	ErrEmptyImage   = errors.New("provider returned no image bytes")
)

// Request is what every provider receives. Providers that only understand an
// aspect ratio ignore Width and Height.
type Request struct {
	Prompt      string
	AspectRatio string
	Width       int
	Height      int
}

// NewRequest returns a square request for the social-media canvas.
func NewRequest(prompt string) Request {
	return Request{
		Prompt:      strings.TrimSpace(prompt),
		AspectRatio: "1:1",
		Width:       CanvasSize,
		Height:      CanvasSize,
	}
}

// Provider is one step of the generation chain.
type Provider interface {
	ID() string
	Model() string
	NeedsCredential() bool
	Generate(ctx context.Context, req Request, credential string) ([]byte, error)
}

// StatusError is a non-2xx answer from a plain HTTP image endpoint.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "image endpoint " + e.Status
	}
	return fmt.Sprintf("image endpoint %s: %s", e.Status, e.Body)
}

// AttemptError records why one provider did not produce a usable image.
type AttemptError struct {
	ProviderID string
	Model      string
	StatusCode int
	Err        error
}

func newAttemptError(p Provider, err error) *AttemptError {
	ae := &AttemptError{ProviderID: p.ID(), Model: p.Model(), Err: err}
	var apiErr *gemini.APIError
	var statusErr *StatusError
	switch {
	case errors.As(err, &apiErr):
		ae.StatusCode = apiErr.StatusCode
	case errors.As(err, &statusErr):
		ae.StatusCode = statusErr.StatusCode
	}
	return ae
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.ProviderID, e.Model, e.Reason())
}

func (e *AttemptError) Unwrap() error { return e.Err }

func (e *AttemptError) Skipped() bool {
	return errors.Is(e.Err, ErrNoCredential)
}

// CredentialRejected reports a 401/403 from a credential-requiring provider.
func (e *AttemptError) CredentialRejected() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Network reports a failure to reach the endpoint at all.
func (e *AttemptError) Network() bool {
	var netErr net.Error
	return e.StatusCode == 0 && errors.As(e.Err, &netErr)
}

// Reason is a short human-readable cause, e.g. "404 model not found".
func (e *AttemptError) Reason() string {
	if errors.Is(e.Err, ErrUndecodable) {
		return "response was not an image"
	}
	var apiErr *gemini.APIError
	if errors.As(e.Err, &apiErr) {
		msg := truncateRunes(apiErr.Message, maxReasonRunes)
		if msg == "" {
			return apiErr.Status
		}
		return fmt.Sprintf("%d %s", apiErr.StatusCode, msg)
	}
	var statusErr *StatusError
	if errors.As(e.Err, &statusErr) {
		return statusErr.Status
	}
	if e.Err == nil {
		return "unknown error"
	}
	return truncateRunes(e.Err.Error(), maxReasonRunes)
}

// Summary is the attempt as shown to users. It names the provider and model
// and says whether the key was missing, rejected, or the endpoint unreachable.
func (e *AttemptError) Summary() string {
	who := fmt.Sprintf("%s provider (%s)", e.ProviderID, e.Model)
	switch {
	case e.Skipped():
		return who + " skipped: " + ErrNoCredential.Error()
	case e.CredentialRejected():
		return fmt.Sprintf("%s failed: API key rejected (%s)", who, e.Reason())
	case e.Network():
		return who + " failed: network unreachable (" + e.Reason() + ")"
	default:
		return who + " failed: " + e.Reason()
	}
}

const maxReasonRunes = 120

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}

// ChainError is returned when no provider produced a decodable image.
type ChainError struct {
	Attempts []*AttemptError
}

func (e *ChainError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return "all image providers failed: " + strings.Join(parts, "; ")
}

func (e *ChainError) Unwrap() []error {
	out := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a)
	}
	return out
}

// Summary joins every attempt's Summary.
func (e *ChainError) Summary() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Summary())
	}
	return strings.Join(parts, "; ")
}

// Last returns the final attempt.
func (e *ChainError) Last() *AttemptError {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1]
}

// Result is a decoded-checked background plus the failures that preceded it.
type Result struct {
	Image      []byte
	MimeType   string
	ProviderID string
	Model      string
	Attempts   []*AttemptError
}

// Degraded reports whether an earlier provider failed or was skipped.
func (r Result) Degraded() bool {
	return len(r.Attempts) > 0
}

// Diagnostic renders the failed attempts for the user, e.g.
// "primary provider failed: 404 model not found, used fallback".
func (r Result) Diagnostic() string {
	if !r.Degraded() {
		return ""
	}
	parts := make([]string, 0, len(r.Attempts)+1)
	for _, a := range r.Attempts {
		parts = append(parts, a.Summary())
	}
	parts = append(parts, "used "+r.ProviderID)
	return strings.Join(parts, ", ")
}
