package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "packshot",
	Short: "Packshot Studio - product photo backgrounds from the command line",
	Long: `packshot places a product photo on a generated 1080x1080 background.

Configuration is read from the environment (and .env): GEMINI_API_KEY,
IMAGEN_MODEL, FALLBACK_IMAGE_BASE_URL, OUTPUT_DIR and friends.

Examples:
  # List background styles
  packshot styles

  # Analyze a product photo (needs a Gemini key)
  packshot analyze --image mug.jpg

  # Compose with an explicit style and placement
  packshot compose --image mug.jpg --style warm --scale 80 --position 60`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(stylesCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(composeCmd)

	rootCmd.PersistentFlags().String("api-key", "", "Gemini API key (overrides GEMINI_API_KEY)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (default from LOG_LEVEL)")
}
