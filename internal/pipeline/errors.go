package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"packshot-studio/internal/analyzer"
	"packshot-studio/internal/compositor"
	"packshot-studio/internal/gemini"
	"packshot-studio/internal/media"
	"packshot-studio/internal/provider"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindTransport Kind = "transport"
	KindDecode    Kind = "decode"
	KindParse     Kind = "parse"
	KindInput     Kind = "input"
)

var (
	ErrNoSource     = errors.New("no product photo uploaded")
	ErrNoBackground = errors.New("no background generated yet")
	ErrUnknownStyle = errors.New("unknown style")
	// ErrSuperseded is returned when a newer request or a new photo replaced
	// the one this call was working for. Its result was discarded.
	ErrSuperseded = errors.New("result superseded by a newer request")
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

// KindOf returns the kind of err, classifying foreign errors on the fly.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	var (
		chainErr   *provider.ChainError
		attemptErr *provider.AttemptError
		decodeErr  *compositor.DecodeError
		failure    *analyzer.Failure
		verrs      validator.ValidationErrors
	)
	switch {
	case errors.Is(err, ErrNoSource), errors.Is(err, ErrNoBackground), errors.Is(err, ErrUnknownStyle),
		errors.Is(err, media.ErrEmpty), errors.Is(err, media.ErrUnsupported), errors.As(err, &verrs):
		return KindInput
	case errors.As(err, &chainErr):
		if last := chainErr.Last(); last != nil && errors.Is(last, provider.ErrUndecodable) {
			return KindDecode
		}
		return KindTransport
	case errors.As(err, &attemptErr):
		if errors.Is(attemptErr, provider.ErrUndecodable) {
			return KindDecode
		}
		return KindTransport
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &failure):
		switch failure.Stage {
		case analyzer.StageParse:
			return KindParse
		case analyzer.StageCredential:
			return KindInput
		}
		return KindTransport
	}
	return KindTransport
}

// UserMessage renders err for an end user, telling a missing credential, a
// rejected credential and a network failure apart.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrSuperseded) {
		return "A newer request replaced this one."
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The request timed out. Please try again."
	}

	var chainErr *provider.ChainError
	if errors.As(err, &chainErr) {
		if len(chainErr.Attempts) == 0 {
			return "No image provider is configured."
		}
		return "Background generation failed: " + chainErr.Summary() + "."
	}

	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) && apiErr.Rejected() {
		return "The API key was rejected (" + apiErr.Status + ")."
	}

	var failure *analyzer.Failure
	if errors.As(err, &failure) && failure.Skipped() {
		return "No API key configured, so the photo was not analysed."
	}

	switch KindOf(err) {
	case KindInput:
		var pe *Error
		if errors.As(err, &pe) {
			return pe.Err.Error()
		}
		return err.Error()
	case KindDecode:
		return "One of the images could not be read."
	case KindParse:
		return "The analysis answer could not be understood."
	}
	return "Network error, please try again."
}
