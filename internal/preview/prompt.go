package preview

import (
	"strconv"
	"strings"
)

const backgroundPrefix = "Top down view background texture only, "
const backgroundSuffix = ", empty center area, no objects in center, photorealistic, 8k."

// BackgroundPrompt builds the text sent to every image provider. hint is the
// user's free text; complement is the analyzer's description of the product
// and may be empty.
func BackgroundPrompt(style Style, hint, complement string) string {
	var b strings.Builder
	b.Grow(256)

	b.WriteString(backgroundPrefix)
	b.WriteString(strings.TrimSpace(style.Prompt))
	b.WriteString(backgroundSuffix)

	if hint = collapseSpaces(hint); hint != "" {
		b.WriteString(" ")
		b.WriteString(hint)
	}
	if complement = collapseSpaces(complement); complement != "" {
		b.WriteString(" Colors and mood should complement this product: ")
		b.WriteString(strings.TrimRight(complement, "."))
		b.WriteString(".")
	}
	return b.String()
}

type InstructionOptions struct {
	Language string
	Brand    string
}

// AnalysisInstruction is the prompt sent alongside the product photo. The
// model is asked for bare JSON with visualDescription, suggestedStyle and
// caption keys.
func AnalysisInstruction(c Catalog, opts InstructionOptions) string {
	lang := strings.TrimSpace(opts.Language)
	if lang == "" {
		lang = "English"
	}

	var b strings.Builder
	b.Grow(1024)

	if brand := strings.TrimSpace(opts.Brand); brand != "" {
		b.WriteString("You are the social media expert for the brand '" + brand + "'.\n")
	} else {
		b.WriteString("You are a social media expert for product brands.\n")
	}
	b.WriteString("Analyze the attached product photo.\n")
	writeSection(&b, "TASKS", []string{
		"Describe the product in one sentence: what it is, its colors and materials (visualDescription).",
		"Pick the background style that suits the product best from this list: " + strings.Join(c.Names(), ", ") + " (suggestedStyle, use the exact name).",
		"Write a short, engaging Instagram post in " + lang + " with emoji (caption).",
	})
	b.WriteString("Return ONLY plain JSON without markdown:\n")
	b.WriteString(`{ "visualDescription": "...", "suggestedStyle": "style name", "caption": "text..." }`)
	return b.String()
}

func writeSection(b *strings.Builder, title string, lines []string) {
	b.WriteString(title + ":\n")
	for i, line := range lines {
		b.WriteString(strconv.Itoa(i+1) + ". " + line + "\n")
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
