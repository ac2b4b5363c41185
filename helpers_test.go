package main

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

var red = color.NRGBA{R: 255, A: 255}

// createTestImage returns a solid image of the given size.
func createTestImage(width, height int, c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, png.Encode(&b, img))
	return b.Bytes()
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func requireColorNear(t *testing.T, want color.NRGBA, got color.Color) {
	t.Helper()
	r, g, b, _ := got.RGBA()
	near := func(want uint8, got uint32) bool {
		d := int(want) - int(got>>8)
		return d > -24 && d < 24
	}
	require.Truef(t, near(want.R, r) && near(want.G, g) && near(want.B, b),
		"want color near %v, got (%d,%d,%d)", want, r>>8, g>>8, b>>8)
}

// createGradientImage returns an image whose pixels all differ, so it does not compress well.
func createGradientImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8(x * y), A: 255})
		}
	}
	return img
}

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
