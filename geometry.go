package main

import (
	"crypto/md5"
	"errors"
	"fmt"
	"math"
)

const (
	DefaultFrameWidth  = 400
	DefaultFrameHeight = 360
	DefaultAspect      = 1 / 0.9

	// minWidthRatio bounds how far a resize can shrink the image, relative to the frame width.
	minWidthRatio = 0.5

	epsilon = 1e-6
)

// Frame is the fixed output rectangle. Aspect is the ratio enforced while resizing.
type Frame struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Aspect float64 `json:"aspect"`
}

func DefaultFrame() Frame {
	return Frame{Width: DefaultFrameWidth, Height: DefaultFrameHeight, Aspect: DefaultAspect}
}

func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions: width=%d, height=%d", f.Width, f.Height)
	}
	if f.Aspect <= 0 || math.IsNaN(f.Aspect) || math.IsInf(f.Aspect, 0) {
		return errors.New("invalid frame aspect: must be a positive number")
	}
	return nil
}

func (f Frame) String() string {
	return fmt.Sprintf("frame(%dx%d,aspect=%.3f)", f.Width, f.Height, f.Aspect)
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Geometry places the source image relative to the frame's top-left corner.
type Geometry struct {
	Position Point `json:"position"`
	Size     Size  `json:"size"`
}

func (g Geometry) String() string {
	return fmt.Sprintf("geometry(x=%.2f,y=%.2f,w=%.2f,h=%.2f)", g.Position.X, g.Position.Y, g.Size.Width, g.Size.Height)
}

// ID is a short stable hash of the geometry, used to name outputs.
func (g Geometry) ID() string {
	sum := md5.Sum([]byte(g.String()))
	return fmt.Sprintf("%x", sum[:4])
}

// Covers reports whether the image spans the whole frame with no gaps at its edges.
func (g Geometry) Covers(f Frame) bool {
	fw, fh := float64(f.Width), float64(f.Height)
	return g.Position.X <= epsilon &&
		g.Position.Y <= epsilon &&
		g.Position.X+g.Size.Width >= fw-epsilon &&
		g.Position.Y+g.Size.Height >= fh-epsilon
}

// InitialGeometry fits an image of the given intrinsic size so that it covers
// the frame, then centers it.
func InitialGeometry(imgWidth, imgHeight int, f Frame) Geometry {
	fw, fh := float64(f.Width), float64(f.Height)
	imageAspect := float64(imgWidth) / float64(imgHeight)

	var size Size
	if imageAspect > f.Aspect {
		size = Size{Width: fh * imageAspect, Height: fh}
	} else {
		size = Size{Width: fw, Height: fw / imageAspect}
	}
	size = coverSize(size, f)

	return Geometry{
		Position: Point{X: (fw - size.Width) / 2, Y: (fh - size.Height) / 2},
		Size:     size,
	}
}

// coverSize scales both dimensions uniformly until neither is smaller than the frame.
func coverSize(s Size, f Frame) Size {
	fw, fh := float64(f.Width), float64(f.Height)
	if s.Width >= fw && s.Height >= fh {
		return s
	}
	scale := math.Max(fw/s.Width, fh/s.Height)
	return Size{Width: s.Width * scale, Height: s.Height * scale}
}

// clampPosition keeps the image from sliding off the frame:
// x stays within [min(0, fw-w), 0], and the same for y.
func clampPosition(p Point, s Size, f Frame) Point {
	minX := math.Min(0, float64(f.Width)-s.Width)
	minY := math.Min(0, float64(f.Height)-s.Height)
	return Point{
		X: math.Max(minX, math.Min(0, p.X)),
		Y: math.Max(minY, math.Min(0, p.Y)),
	}
}
