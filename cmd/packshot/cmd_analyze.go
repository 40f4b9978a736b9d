package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"packshot-studio/internal/analyzer"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Describe a product photo and suggest a style",
	Long:  `Send the photo to the vision model and print the parsed answer as JSON.`,
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringP("image", "i", "", "Product photo (JPEG, PNG or WebP)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	imagePath, _ := cmd.Flags().GetString("image")

	img, err := readSource(imagePath)
	if err != nil {
		return err
	}

	studio, err := loadStudio(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(cmd.Context(), studio.Config.AnalysisTimeout)
	defer cancel()

	res, err := studio.Analyzer.Analyze(ctx, studio.Config.GeminiAPIKey, img, studio.Instruction)
	if err != nil {
		var failure *analyzer.Failure
		if errors.As(err, &failure) && failure.Skipped() {
			return fmt.Errorf("analysis needs a Gemini key: set GEMINI_API_KEY or pass --api-key")
		}
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
