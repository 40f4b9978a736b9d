package compositor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"packshot-studio/internal/metrics"
)

const DefaultFilenamePrefix = "packshot"

// DecodeError means one of the two input layers could not be decoded.
type DecodeError struct {
	Layer string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s image: %v", e.Layer, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Output is an encoded Size×Size render.
type Output struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Filename returns "<prefix>-<unix millis>.<ext>".
func (o Output) Filename(prefix string, t time.Time) string {
	if prefix == "" {
		prefix = DefaultFilenamePrefix
	}
	ext := ".jpg"
	if o.MimeType == "image/png" {
		ext = ".png"
	}
	return fmt.Sprintf("%s-%d%s", prefix, t.UnixMilli(), ext)
}

type Options struct {
	JPEGQuality int
	Logger      *slog.Logger
}

type Compositor struct {
	quality int
	logger  *slog.Logger
}

func New(opts Options) *Compositor {
	q := opts.JPEGQuality
	if q < 1 || q > 100 {
		q = 90
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Compositor{quality: q, logger: logger}
}

// Compose draws the background cover-fitted to the canvas and the foreground
// on top of it, then encodes the result. The output depends only on the
// inputs.
func (c *Compositor) Compose(ctx context.Context, foreground, background []byte, p Params) (Output, error) {
	started := time.Now()
	out, err := c.compose(ctx, foreground, background, p)
	format := "jpeg"
	if p.Lossless {
		format = "png"
	}
	if err != nil {
		metrics.RecordComposite(format, "failed", 0)
		return Output{}, err
	}
	metrics.RecordComposite(format, "success", time.Since(started).Seconds())
	c.logger.Debug("composite rendered",
		"scale", p.ScalePercent,
		"position", p.VerticalPositionPercent,
		"blend", p.BlendWhiteAsTransparent,
		"bytes", len(out.Data),
		"dur_ms", time.Since(started).Milliseconds(),
	)
	return out, nil
}

func (c *Compositor) compose(ctx context.Context, foreground, background []byte, p Params) (Output, error) {
	if err := p.Validate(); err != nil {
		return Output{}, err
	}

	var fg, bg image.Image
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		img, err := decode(gctx, foreground, true)
		if err != nil {
			return &DecodeError{Layer: "foreground", Err: err}
		}
		fg = img
		return nil
	})
	g.Go(func() error {
		img, err := decode(gctx, background, false)
		if err != nil {
			return &DecodeError{Layer: "background", Err: err}
		}
		bg = img
		return nil
	})
	if err := g.Wait(); err != nil {
		return Output{}, err
	}

	cv := newCanvas(coverFit(bg))

	fb := fg.Bounds()
	pl := Place(Size, fb.Dx(), fb.Dy(), p)
	scaled := imaging.Resize(fg, pl.W, pl.H, imaging.Lanczos)

	mode := BlendNormal
	if p.BlendWhiteAsTransparent {
		mode = BlendMultiply
	}
	if err := cv.withBlend(mode, func() error {
		return cv.draw(scaled, image.Pt(pl.X, pl.Y))
	}); err != nil {
		return Output{}, fmt.Errorf("draw foreground: %w", err)
	}

	return c.encode(cv.img, p.Lossless)
}

// RenderBackground is the composite without a foreground.
func (c *Compositor) RenderBackground(ctx context.Context, background []byte, lossless bool) (Output, error) {
	bg, err := decode(ctx, background, false)
	if err != nil {
		return Output{}, &DecodeError{Layer: "background", Err: err}
	}
	return c.encode(coverFit(bg), lossless)
}

func coverFit(img image.Image) *image.NRGBA {
	return imaging.Fill(img, Size, Size, imaging.Center, imaging.Lanczos)
}

func decode(ctx context.Context, data []byte, orient bool) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(orient))
}

func (c *Compositor) encode(img *image.NRGBA, lossless bool) (Output, error) {
	var buf bytes.Buffer
	out := Output{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}

	if lossless {
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return Output{}, fmt.Errorf("encode png: %w", err)
		}
		out.MimeType = "image/png"
	} else {
		flat := img
		if !img.Opaque() {
			flat = imaging.Overlay(imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.White), img, image.Pt(0, 0), 1.0)
		}
		if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(c.quality)); err != nil {
			return Output{}, fmt.Errorf("encode jpeg: %w", err)
		}
		out.MimeType = "image/jpeg"
	}

	out.Data = buf.Bytes()
	return out, nil
}
