package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"packshot-studio/internal/preview"
)

var stylesCmd = &cobra.Command{
	Use:   "styles",
	Short: "List background styles",
	Long:  `Print the style catalog. The first column is the id accepted by --style.`,
	RunE:  runStyles,
}

func init() {
	stylesCmd.Flags().Bool("prompts", false, "Also print each style's prompt fragment")
}

func runStyles(cmd *cobra.Command, args []string) error {
	withPrompts, _ := cmd.Flags().GetBool("prompts")

	catalog := preview.DefaultCatalog()
	out := cmd.OutOrStdout()
	for _, s := range catalog.Styles() {
		marker := " "
		if s.ID == catalog.Default().ID {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-12s %s\n", marker, s.ID, s.Name)
		if withPrompts {
			fmt.Fprintf(out, "  %s\n", s.Prompt)
		}
	}
	return nil
}
