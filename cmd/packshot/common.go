package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"packshot-studio/internal/app"
	"packshot-studio/internal/config"
	"packshot-studio/internal/media"
)

// loadStudio reads the environment config and applies the persistent flags.
// Logs go to stderr so stdout stays machine readable.
func loadStudio(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if key, _ := cmd.Flags().GetString("api-key"); strings.TrimSpace(key) != "" {
		cfg.GeminiAPIKey = strings.TrimSpace(key)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	} else if !cfg.Debug && cfg.LogLevel == "info" {
		cfg.LogLevel = "warn"
	}

	return app.New(cfg, app.NewLogger(cfg.LogLevel, os.Stderr)), nil
}

func readSource(path string) (media.SourceImage, error) {
	if strings.TrimSpace(path) == "" {
		return media.SourceImage{}, fmt.Errorf("--image is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return media.SourceImage{}, fmt.Errorf("read image: %w", err)
	}
	img, err := media.NewSourceImage(data, "")
	if err != nil {
		return media.SourceImage{}, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// outputPath resolves where the composite is written. An explicit path that
// names a directory receives the generated filename.
func outputPath(explicit, outputDir, filename string) string {
	explicit = strings.TrimSpace(explicit)
	if explicit == "" {
		return filepath.Join(outputDir, filename)
	}
	if info, err := os.Stat(explicit); err == nil && info.IsDir() {
		return filepath.Join(explicit, filename)
	}
	if strings.HasSuffix(explicit, string(os.PathSeparator)) {
		return filepath.Join(explicit, filename)
	}
	return explicit
}
