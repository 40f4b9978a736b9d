package compositor

import (
	"fmt"
	"math"
	"sync"

	"github.com/go-playground/validator/v10"
)

const (
	Size = 1080

	MinScale    = 10
	MaxScale    = 150
	MinPosition = 0
	MaxPosition = 100
)

// Params controls foreground placement on the square canvas.
type Params struct {
	ScalePercent            int  `json:"scalePercent" validate:"gte=10,lte=150"`
	VerticalPositionPercent int  `json:"verticalPositionPercent" validate:"gte=0,lte=100"`
	BlendWhiteAsTransparent bool `json:"blendWhiteAsTransparent"`
	Lossless                bool `json:"lossless"`
}

func DefaultParams() Params {
	return Params{
		ScalePercent:            70,
		VerticalPositionPercent: 50,
		BlendWhiteAsTransparent: true,
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func (p Params) Validate() error {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid composition params: %w", err)
	}
	return nil
}

// Clamp forces both percentages into range.
func (p Params) Clamp() Params {
	p.ScalePercent = clampInt(p.ScalePercent, MinScale, MaxScale)
	p.VerticalPositionPercent = clampInt(p.VerticalPositionPercent, MinPosition, MaxPosition)
	return p
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Placement is the foreground rectangle in canvas pixels. X and Y may be
// negative and W may exceed the canvas; the excess is clipped when drawing.
type Placement struct {
	X, Y, W, H int
}

// Place computes where a fgW×fgH foreground lands on a size×size canvas:
// width is ScalePercent of the canvas, aspect ratio is preserved, the image
// is centred horizontally and its centre sits at VerticalPositionPercent of
// the height.
func Place(size, fgW, fgH int, p Params) Placement {
	if fgW <= 0 || fgH <= 0 {
		return Placement{}
	}
	s := float64(size)
	w := s * float64(p.ScalePercent) / 100
	h := w * float64(fgH) / float64(fgW)

	return Placement{
		X: int(math.Round((s - w) / 2)),
		Y: int(math.Round(s*float64(p.VerticalPositionPercent)/100 - h/2)),
		W: max(1, int(math.Round(w))),
		H: max(1, int(math.Round(h))),
	}
}
