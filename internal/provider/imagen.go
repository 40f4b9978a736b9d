package provider

import (
	"context"
	"strings"

	"packshot-studio/internal/gemini"
)

// Imagen generates through the Generative Language predict endpoint. The
// primary model and its secondary variant are two Imagen values sharing the
// "primary" id and told apart by Model().
type Imagen struct {
	client *gemini.Client
	model  string
}

func NewImagen(client *gemini.Client, model string) *Imagen {
	if client == nil {
		client = gemini.New(gemini.Options{})
	}
	return &Imagen{client: client, model: strings.TrimSpace(model)}
}

func (p *Imagen) ID() string            { return IDPrimary }
func (p *Imagen) Model() string         { return p.model }
func (p *Imagen) NeedsCredential() bool { return true }

func (p *Imagen) Generate(ctx context.Context, req Request, credential string) ([]byte, error) {
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = "1:1"
	}
	return p.client.WithAPIKey(credential).PredictImage(ctx, p.model, req.Prompt, aspect)
}

// Standard returns the ordered chain: primary model, its secondary variant
// (when distinct), then the keyless fallback.
func Standard(client *gemini.Client, primaryModel, secondaryModel string, fallback Provider) []Provider {
	out := []Provider{NewImagen(client, primaryModel)}
	secondaryModel = strings.TrimSpace(secondaryModel)
	if secondaryModel != "" && secondaryModel != strings.TrimSpace(primaryModel) {
		out = append(out, NewImagen(client, secondaryModel))
	}
	if fallback != nil {
		out = append(out, fallback)
	}
	return out
}
