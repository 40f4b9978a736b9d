package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packshot-studio/internal/gemini"
	"packshot-studio/internal/media"
	"packshot-studio/internal/preview"
)

func sourceImage(t *testing.T) media.SourceImage {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 2, 2))))
	src, err := media.NewSourceImage(buf.Bytes(), "image/png")
	require.NoError(t, err)
	return src
}

func answerServer(t *testing.T, status int, text string, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		w.WriteHeader(status)
		if status >= 400 {
			_, _ = io.WriteString(w, `{"error":{"message":"API key not valid"}}`)
			return
		}
		body, _ := json.Marshal(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
			}},
		})
		_, _ = w.Write(body)
	}))
}

func newAnalyzer(srv *httptest.Server) *Analyzer {
	return New(Options{
		Client: gemini.New(gemini.Options{BaseURL: srv.URL, HTTPClient: srv.Client()}),
		Model:  "vision",
	})
}

func TestAnalyzeFencedJSON(t *testing.T) {
	var calls int32
	answer := "```json\n{\"visualDescription\":\"A white mug\",\"suggestedStyle\":\"Marble Luxury\",\"instagramCaption\":\"Coffee time ☕\"}\n```"
	srv := answerServer(t, http.StatusOK, answer, &calls)
	defer srv.Close()

	res, err := newAnalyzer(srv).Analyze(context.Background(), "key", sourceImage(t), "instr")
	require.NoError(t, err)

	assert.Equal(t, "A white mug", res.VisualDescription)
	assert.Equal(t, "Marble Luxury", res.SuggestedStyle)
	assert.Equal(t, "marble", res.SuggestedStyleID)
	assert.Equal(t, "Coffee time ☕", res.Caption)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAnalyzeUnknownSuggestionLeavesIDEmpty(t *testing.T) {
	srv := answerServer(t, http.StatusOK, `{"suggestedStyle":"Neon City","caption":"x"}`, nil)
	defer srv.Close()

	res, err := newAnalyzer(srv).Analyze(context.Background(), "key", sourceImage(t), "instr")
	require.NoError(t, err)
	assert.Empty(t, res.SuggestedStyleID)
}

func TestAnalyzeMalformedJSON(t *testing.T) {
	srv := answerServer(t, http.StatusOK, "I think Cozy Wood fits best!", nil)
	defer srv.Close()

	_, err := newAnalyzer(srv).Analyze(context.Background(), "key", sourceImage(t), "instr")
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, StageParse, f.Stage)
}

func TestAnalyzeNon2xxNoRetry(t *testing.T) {
	var calls int32
	srv := answerServer(t, http.StatusForbidden, "", &calls)
	defer srv.Close()

	_, err := newAnalyzer(srv).Analyze(context.Background(), "bad", sourceImage(t), "instr")
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, StageResponse, f.Stage)

	var apiErr *gemini.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAnalyzeWithoutCredentialSkips(t *testing.T) {
	var calls int32
	srv := answerServer(t, http.StatusOK, "{}", &calls)
	defer srv.Close()

	_, err := newAnalyzer(srv).Analyze(context.Background(), "  ", sourceImage(t), "instr")
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.True(t, f.Skipped())
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestParseAnswerWithChatter(t *testing.T) {
	res, err := ParseAnswer("Sure! Here you go: {\"suggestedStyle\":\"Botanical\",\"caption\":\"Fresh\"} Enjoy.")
	require.NoError(t, err)
	assert.Equal(t, "Botanical", res.SuggestedStyle)
	assert.Equal(t, "Fresh", res.Caption)

	_, err = ParseAnswer("```json\n```")
	assert.Error(t, err)
}

func TestCatalogOverride(t *testing.T) {
	srv := answerServer(t, http.StatusOK, `{"suggestedStyle":"Studio"}`, nil)
	defer srv.Close()

	a := New(Options{
		Client:  gemini.New(gemini.Options{BaseURL: srv.URL, HTTPClient: srv.Client()}),
		Catalog: preview.NewCatalog([]preview.Style{{ID: "studio", Name: "Studio White", Prompt: "white sweep"}}),
	})
	res, err := a.Analyze(context.Background(), "key", sourceImage(t), "instr")
	require.NoError(t, err)
	assert.Equal(t, "studio", res.SuggestedStyleID)
}
