package compositor

import (
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

type BlendMode int

const (
	BlendNormal BlendMode = iota
	BlendMultiply
)

func (m BlendMode) String() string {
	if m == BlendMultiply {
		return "multiply"
	}
	return "normal"
}

type canvas struct {
	img  *image.NRGBA
	mode BlendMode
}

func newCanvas(base *image.NRGBA) *canvas {
	return &canvas{img: base, mode: BlendNormal}
}

// withBlend runs fn with mode active and restores the previous mode on every
// return path.
func (c *canvas) withBlend(mode BlendMode, fn func() error) error {
	prev := c.mode
	c.mode = mode
	defer func() { c.mode = prev }()
	return fn()
}

func (c *canvas) draw(src *image.NRGBA, at image.Point) error {
	if src == nil {
		return errors.New("draw: nil source")
	}
	switch c.mode {
	case BlendMultiply:
		multiply(c.img, src, at)
	default:
		c.img = imaging.Overlay(c.img, src, at, 1.0)
	}
	return nil
}

// multiply blends src onto dst at offset with the separable multiply mode on
// straight alpha:
//
//	ao = as + ab(1-as)
//	co = (as(1-ab)Cs + as·ab·Cs·Cb + (1-as)ab·Cb) / ao
func multiply(dst, src *image.NRGBA, at image.Point) {
	placed := src.Bounds().Sub(src.Bounds().Min).Add(at)
	area := placed.Intersect(dst.Bounds())
	if area.Empty() {
		return
	}

	for y := area.Min.Y; y < area.Max.Y; y++ {
		sy := y - at.Y + src.Bounds().Min.Y
		for x := area.Min.X; x < area.Max.X; x++ {
			sx := x - at.X + src.Bounds().Min.X
			si := src.PixOffset(sx, sy)
			di := dst.PixOffset(x, y)

			as := float64(src.Pix[si+3]) / 255
			if as == 0 {
				continue
			}
			ab := float64(dst.Pix[di+3]) / 255
			ao := as + ab*(1-as)

			for k := 0; k < 3; k++ {
				cs := float64(src.Pix[si+k]) / 255
				cb := float64(dst.Pix[di+k]) / 255
				co := as*(1-ab)*cs + as*ab*cs*cb + (1-as)*ab*cb
				dst.Pix[di+k] = to8(co / ao)
			}
			dst.Pix[di+3] = to8(ao)
		}
	}
}

func to8(v float64) uint8 {
	v = math.Round(v * 255)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
