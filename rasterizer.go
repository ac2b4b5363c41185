package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Rasterizer bakes a positioned source image into an encoded frame.
type Rasterizer interface {
	Compose(src image.Image, g Geometry, f Frame) ([]byte, error)
}

const (
	RasterizerImaging = "imaging"
	RasterizerDraw    = "draw"
	RasterizerGG      = "gg"
)

// NewRasterizer returns the backend registered under name.
func NewRasterizer(name string, background color.Color, quality int) (Rasterizer, error) {
	switch name {
	case "", RasterizerImaging:
		return &ImagingRasterizer{Background: background, Quality: quality}, nil
	case RasterizerDraw:
		return &DrawRasterizer{Background: background, Quality: quality}, nil
	case RasterizerGG:
		return &GGRasterizer{Background: background, Quality: quality}, nil
	default:
		return nil, fmt.Errorf("unknown rasterizer %q", name)
	}
}

// ImagingRasterizer resizes with a Lanczos filter and pastes onto a solid canvas
// using the disintegration/imaging library. Only the part of the source that
// lands inside the frame is cropped and resized.
type ImagingRasterizer struct {
	Background color.Color
	Quality    int
}

// lanczosSupport keeps enough neighbouring source pixels around a crop for the filter.
const lanczosSupport = 3

func (r *ImagingRasterizer) Compose(src image.Image, g Geometry, f Frame) ([]byte, error) {
	rect := targetRect(g)
	if rect.Empty() {
		return nil, fmt.Errorf("%w: empty target rectangle %v", ErrDecodeFailure, rect)
	}
	canvas := imaging.New(f.Width, f.Height, r.Background)
	visible := rect.Intersect(image.Rect(0, 0, f.Width, f.Height))
	if visible.Empty() {
		return encodeJPEG(canvas, r.Quality)
	}

	bounds := src.Bounds()
	sx := float64(rect.Dx()) / float64(bounds.Dx())
	sy := float64(rect.Dy()) / float64(bounds.Dy())

	x0, x1 := sourceSpan(visible.Min.X-rect.Min.X, visible.Max.X-rect.Min.X, sx, bounds.Dx())
	y0, y1 := sourceSpan(visible.Min.Y-rect.Min.Y, visible.Max.Y-rect.Min.Y, sy, bounds.Dy())
	crop := imaging.Crop(src, image.Rect(bounds.Min.X+x0, bounds.Min.Y+y0, bounds.Min.X+x1, bounds.Min.Y+y1))

	// the crop keeps its exact place inside the full scaled image
	dst := image.Rect(
		rect.Min.X+int(math.Round(float64(x0)*sx)),
		rect.Min.Y+int(math.Round(float64(y0)*sy)),
		rect.Min.X+int(math.Round(float64(x1)*sx)),
		rect.Min.Y+int(math.Round(float64(y1)*sy)),
	)
	if dst.Empty() {
		return encodeJPEG(canvas, r.Quality)
	}
	scaled := imaging.Resize(crop, dst.Dx(), dst.Dy(), imaging.Lanczos)
	canvas = imaging.Paste(canvas, scaled, dst.Min)
	return encodeJPEG(canvas, r.Quality)
}

// sourceSpan maps the destination span [d0, d1), relative to the scaled image
// origin, back to source pixels with room for the filter, clamped to [0, n].
func sourceSpan(d0, d1 int, scale float64, n int) (int, int) {
	s0 := int(math.Floor(float64(d0)/scale)) - lanczosSupport
	s1 := int(math.Ceil(float64(d1)/scale)) + lanczosSupport
	return max(s0, 0), min(s1, n)
}

// DrawRasterizer renders through an affine transform with golang.org/x/image/draw.
// Only destination pixels inside the frame are computed.
type DrawRasterizer struct {
	Background color.Color
	Quality    int
}

func (r *DrawRasterizer) Compose(src image.Image, g Geometry, f Frame) ([]byte, error) {
	rect := targetRect(g)
	if rect.Empty() {
		return nil, fmt.Errorf("%w: empty target rectangle %v", ErrDecodeFailure, rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(r.Background), image.Point{}, draw.Src)

	bounds := src.Bounds()
	sx := float64(rect.Dx()) / float64(bounds.Dx())
	sy := float64(rect.Dy()) / float64(bounds.Dy())
	s2d := f64.Aff3{
		sx, 0, float64(rect.Min.X) - sx*float64(bounds.Min.X),
		0, sy, float64(rect.Min.Y) - sy*float64(bounds.Min.Y),
	}
	draw.CatmullRom.Transform(dst, s2d, src, bounds, draw.Over, nil)
	return encodeJPEG(dst, r.Quality)
}

// GGRasterizer draws through an affine transform on a gg context.
// Sub-pixel positions are preserved.
type GGRasterizer struct {
	Background color.Color
	Quality    int
}

func (r *GGRasterizer) Compose(src image.Image, g Geometry, f Frame) ([]byte, error) {
	bounds := src.Bounds()
	if g.Size.Width <= 0 || g.Size.Height <= 0 {
		return nil, fmt.Errorf("%w: empty geometry %s", ErrDecodeFailure, g)
	}

	dc := gg.NewContext(f.Width, f.Height)
	dc.SetColor(r.Background)
	dc.Clear()

	dc.Push()
	dc.Translate(g.Position.X, g.Position.Y)
	dc.Scale(g.Size.Width/float64(bounds.Dx()), g.Size.Height/float64(bounds.Dy()))
	dc.DrawImage(src, -bounds.Min.X, -bounds.Min.Y)
	dc.Pop()

	return encodeJPEG(dc.Image(), r.Quality)
}

func targetRect(g Geometry) image.Rectangle {
	x0 := int(math.Round(g.Position.X))
	y0 := int(math.Round(g.Position.Y))
	x1 := int(math.Round(g.Position.X + g.Size.Width))
	y1 := int(math.Round(g.Position.Y + g.Size.Height))
	return image.Rect(x0, y0, x1, y1)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var b bytes.Buffer
	if err := imaging.Encode(&b, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}
	if b.Len() == 0 {
		return nil, fmt.Errorf("%w: encoder produced no output", ErrEncodeFailure)
	}
	return b.Bytes(), nil
}
