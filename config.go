package main

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Options configures one widget instance.
type Options struct {
	Aspect        float64       `yaml:"aspect" json:"aspect"`
	ButtonText    string        `yaml:"buttonText" json:"buttonText"`
	Accept        string        `yaml:"accept" json:"accept"`
	MaxFileSizeMB float64       `yaml:"maxFileSizeMB" json:"maxFileSizeMB"`
	FrameWidth    int           `yaml:"frameWidth" json:"frameWidth"`
	FrameHeight   int           `yaml:"frameHeight" json:"frameHeight"`
	Disabled      bool          `yaml:"disabled" json:"disabled"`
	Background    string        `yaml:"background" json:"background"`
	Quality       int           `yaml:"quality" json:"quality"`
	Rasterizer    string        `yaml:"rasterizer" json:"rasterizer"`
	UploadTimeout time.Duration `yaml:"uploadTimeout" json:"uploadTimeout"`
}

func DefaultOptions() Options {
	return Options{
		Aspect:        DefaultAspect,
		ButtonText:    "Choose image",
		Accept:        "image/*",
		MaxFileSizeMB: 10,
		FrameWidth:    DefaultFrameWidth,
		FrameHeight:   DefaultFrameHeight,
		Background:    "#ffffff",
		Quality:       100,
		Rasterizer:    RasterizerImaging,
	}
}

// LoadOptions reads a YAML options file on top of the defaults.
func LoadOptions(configPath string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(configPath)
	if err != nil {
		return opts, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return opts, nil
}

func (o Options) Frame() Frame {
	return Frame{Width: o.FrameWidth, Height: o.FrameHeight, Aspect: o.Aspect}
}

func (o Options) Validate() error {
	if err := o.Frame().Validate(); err != nil {
		return err
	}
	if o.Quality < 1 || o.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", o.Quality)
	}
	if o.MaxFileSizeMB < 0 {
		return errors.New("maxFileSizeMB must not be negative")
	}
	if o.UploadTimeout < 0 {
		return errors.New("uploadTimeout must not be negative")
	}
	if _, err := parseHexColor(o.Background); err != nil {
		return err
	}
	switch o.Rasterizer {
	case "", RasterizerImaging, RasterizerDraw, RasterizerGG:
	default:
		return fmt.Errorf("unknown rasterizer %q", o.Rasterizer)
	}
	return nil
}

func (o Options) BackgroundColor() color.Color {
	c, err := parseHexColor(o.Background)
	if err != nil {
		return color.White
	}
	return c
}

// parseHexColor accepts #rgb and #rrggbb. An empty string is white.
func parseHexColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(s) {
	case 0:
		return color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, nil
	case 3:
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	case 6:
	default:
		return color.NRGBA{}, fmt.Errorf("invalid background color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid background color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
