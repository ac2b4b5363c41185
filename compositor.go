package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Compositor turns the current session geometry into an encoded frame.
// The fit is carried entirely by the geometry; the source is never cropped.
type Compositor struct {
	Frame      Frame
	Rasterizer Rasterizer
}

func NewCompositor(frame Frame, r Rasterizer) *Compositor {
	return &Compositor{Frame: frame, Rasterizer: r}
}

func (c *Compositor) Compose(ctx context.Context, img *LoadedImage, g Geometry) ([]byte, error) {
	if img == nil || img.Image == nil || img.Image.Bounds().Empty() {
		return nil, fmt.Errorf("%w: no source bitmap", ErrDecodeFailure)
	}

	data, err := c.Rasterizer.Compose(img.Image, g, c.Frame)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("filename", img.Name).
			Stringer("geometry", g).
			Msg("failed to compose frame")
		return nil, err
	}

	log.Ctx(ctx).Debug().
		Str("filename", img.Name).
		Stringer("geometry", g).
		Stringer("frame", c.Frame).
		Int("size_bytes", len(data)).
		Msg("frame composed")
	return data, nil
}
