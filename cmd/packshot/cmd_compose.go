package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"packshot-studio/internal/compositor"
	"packshot-studio/internal/pipeline"
)

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Generate a background and compose the product onto it",
	Long: `Run the whole pipeline for one photo: analysis (when a key is set),
background generation through the provider chain, and composition.

Without --style the analyzer's suggestion is used when it arrives in time,
otherwise the default style.`,
	RunE: runCompose,
}

func init() {
	defaults := compositor.DefaultParams()

	composeCmd.Flags().StringP("image", "i", "", "Product photo (JPEG, PNG or WebP)")
	composeCmd.Flags().StringP("style", "s", "", "Style id (see 'packshot styles')")
	composeCmd.Flags().String("hint", "", "Extra words appended to the background prompt")
	composeCmd.Flags().Int("scale", defaults.ScalePercent, "Product width as percent of the canvas (10-150)")
	composeCmd.Flags().Int("position", defaults.VerticalPositionPercent, "Vertical position in percent (0 top, 100 bottom)")
	composeCmd.Flags().Bool("blend", defaults.BlendWhiteAsTransparent, "Multiply blend so white becomes transparent")
	composeCmd.Flags().Bool("lossless", false, "Write PNG instead of JPEG")
	composeCmd.Flags().StringP("out", "o", "", "Output file or directory (default: OUTPUT_DIR)")
	composeCmd.Flags().Bool("save-background", false, "Also write the bare background next to the output")
	composeCmd.Flags().Duration("wait-analysis", 30*time.Second, "How long to wait for a style suggestion when --style is not set")
}

func runCompose(cmd *cobra.Command, args []string) error {
	imagePath, _ := cmd.Flags().GetString("image")
	styleID, _ := cmd.Flags().GetString("style")
	hint, _ := cmd.Flags().GetString("hint")
	scale, _ := cmd.Flags().GetInt("scale")
	position, _ := cmd.Flags().GetInt("position")
	blend, _ := cmd.Flags().GetBool("blend")
	lossless, _ := cmd.Flags().GetBool("lossless")
	output, _ := cmd.Flags().GetString("out")
	saveBackground, _ := cmd.Flags().GetBool("save-background")
	wait, _ := cmd.Flags().GetDuration("wait-analysis")

	params := compositor.Params{
		ScalePercent:            scale,
		VerticalPositionPercent: position,
		BlendWhiteAsTransparent: blend,
		Lossless:                lossless,
	}
	if err := params.Validate(); err != nil {
		return err
	}

	img, err := readSource(imagePath)
	if err != nil {
		return err
	}

	studio, err := loadStudio(cmd)
	if err != nil {
		return err
	}
	if styleID != "" {
		if _, ok := studio.Catalog.Lookup(styleID); !ok {
			return fmt.Errorf("unknown style %q (see 'packshot styles')", styleID)
		}
	}

	ctx, cancel := withTimeout(cmd.Context(), studio.Config.RequestTimeout)
	defer cancel()

	flow := studio.NewFlow("")
	if err := flow.Capture(ctx, img); err != nil {
		return err
	}

	if styleID != "" {
		if err := flow.ChooseStyle(styleID); err != nil {
			return err
		}
	} else if wait > 0 && flow.Snapshot().AnalysisPending {
		waitCtx, waitCancel := context.WithTimeout(ctx, wait)
		_, err := flow.AwaitAnalysis(waitCtx)
		waitCancel()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "analysis: %s\n", pipeline.UserMessage(err))
		}
	}

	flow.SetHint(hint)
	if err := flow.SetParams(params); err != nil {
		return err
	}

	bg, err := flow.Generate(ctx)
	if err != nil {
		return errors.New(pipeline.UserMessage(err))
	}

	out, err := flow.Composite(ctx)
	if err != nil {
		return errors.New(pipeline.UserMessage(err))
	}

	path := outputPath(output, studio.Config.OutputDir, out.Filename(compositor.DefaultFilenamePrefix, time.Now()))
	if err := writeFile(path, out.Data); err != nil {
		return err
	}

	if saveBackground {
		bgOut, err := studio.Compositor.RenderBackground(ctx, bg.Image, lossless)
		if err != nil {
			return err
		}
		bgPath := filepath.Join(filepath.Dir(path), out.Filename("background", time.Now()))
		if err := writeFile(bgPath, bgOut.Data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "background: %s\n", bgPath)
	}

	snap := flow.Snapshot()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "output: %s (%dx%d %s)\n", path, out.Width, out.Height, out.MimeType)
	fmt.Fprintf(w, "style: %s\n", snap.Style.ID)
	if diag := bg.Diagnostic(); diag != "" {
		fmt.Fprintf(w, "provider: %s\n", diag)
	} else {
		fmt.Fprintf(w, "provider: %s (%s)\n", bg.ProviderID, bg.Model)
	}
	if caption := snap.Caption(); caption != "" {
		fmt.Fprintf(w, "caption:\n%s\n", caption)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
