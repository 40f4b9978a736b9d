package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStylesCommandListsCatalog(t *testing.T) {
	out, err := execute(t, "styles")
	require.NoError(t, err)

	assert.Contains(t, out, "* minimalist")
	assert.Contains(t, out, "warm")
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 6)
}

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, filepath.Join("out", "packshot-1.jpg"), outputPath("", "out", "packshot-1.jpg"))
	assert.Equal(t, filepath.Join(dir, "packshot-1.jpg"), outputPath(dir, "out", "packshot-1.jpg"))
	assert.Equal(t, "final.png", outputPath("final.png", "out", "packshot-1.png"))
}

func TestComposeWithoutKeyUsesFallback(t *testing.T) {
	background := solidPNG(t, 512, 512, color.NRGBA{R: 40, G: 120, B: 200, A: 255})

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.True(t, strings.HasPrefix(r.URL.Path, "/prompt/"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(background)
	}))
	defer srv.Close()

	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("FALLBACK_IMAGE_BASE_URL", srv.URL)

	dir := t.TempDir()
	src := filepath.Join(dir, "mug.png")
	require.NoError(t, os.WriteFile(src, solidPNG(t, 200, 300, color.NRGBA{R: 255, G: 255, B: 255, A: 255}), 0o644))
	target := filepath.Join(dir, "result.jpg")

	out, err := execute(t, "compose", "--image", src, "--style", "warm", "--out", target, "--scale", "50", "--position", "40")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Contains(t, out, "style: warm")
	assert.Contains(t, out, "skipped: no credential configured")
	assert.Contains(t, out, "used fallback")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 1080, cfg.Width)
	assert.Equal(t, 1080, cfg.Height)
}

func TestComposeRejectsBadParams(t *testing.T) {
	_, err := execute(t, "compose", "--image", "missing.png", "--scale", "500")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid composition params")
}

func TestComposeRequiresImage(t *testing.T) {
	_, err := execute(t, "compose", "--image", "", "--scale", "70")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--image is required")
}
