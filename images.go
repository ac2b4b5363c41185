package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// LoadedImage is a decoded source bitmap owned by one crop session.
type LoadedImage struct {
	Name        string
	ContentType string
	Width       int
	Height      int
	Image       image.Image
	Source      []byte
}

// Loader validates and decodes user-selected files.
type Loader struct {
	// Accept is a comma separated list of MIME patterns, e.g. "image/*" or "image/png,image/jpeg".
	Accept string
	// MaxBytes limits the file size. Zero means no limit.
	MaxBytes int64
}

func NewLoader(opts Options) *Loader {
	return &Loader{
		Accept:   opts.Accept,
		MaxBytes: int64(opts.MaxFileSizeMB * 1024 * 1024),
	}
}

// Load reads r fully, checks its sniffed content type and decodes it.
func (l *Loader) Load(ctx context.Context, name string, r io.Reader) (*LoadedImage, error) {
	if l.MaxBytes > 0 {
		r = io.LimitReader(r, l.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if l.MaxBytes > 0 && int64(len(data)) > l.MaxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrFileTooLarge, name, l.MaxBytes)
	}

	contentType := mimetype.Detect(data).String()
	if !acceptsType(l.Accept, contentType) {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidFileType, name, contentType)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailure, name, err)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: %s has no pixels", ErrDecodeFailure, name)
	}

	log.Ctx(ctx).Debug().
		Str("filename", name).
		Str("content_type", contentType).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Msg("image loaded")

	return &LoadedImage{
		Name:        name,
		ContentType: contentType,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Image:       img,
		Source:      data,
	}, nil
}

// LoadFile opens and loads the file at p.
func (l *Loader) LoadFile(ctx context.Context, p string) (*LoadedImage, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", p, err)
	}
	defer f.Close()
	return l.Load(ctx, filepath.Base(p), f)
}

func acceptsType(accept, contentType string) bool {
	if accept == "" {
		accept = "image/*"
	}
	contentType, _, _ = strings.Cut(contentType, ";")
	for _, pattern := range strings.Split(accept, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if ok, _ := path.Match(pattern, contentType); ok {
			return true
		}
	}
	return false
}

type ImageInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type FileInfo struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
	Image      ImageInfo `json:"image"`
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

// walkImages lists image files under rootPath, skipping skipDir, with their dimensions.
func walkImages(ctx context.Context, rootPath, skipDir string) ([]FileInfo, error) {
	var files []FileInfo

	if err := filepath.WalkDir(rootPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir != "" && filepath.Clean(p) == filepath.Clean(skipDir) {
				return filepath.SkipDir
			}
			return nil
		}
		if !slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(p))) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info: %w", err)
		}
		relPath, err := filepath.Rel(rootPath, p)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		files = append(files, FileInfo{
			Name:       relPath,
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
		return nil
	}); err != nil {
		return nil, err
	}

	for i := range files {
		w, h, err := readImageDimensions(filepath.Join(rootPath, files[i].Name))
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("filename", files[i].Name).Msg("cannot read image dimensions")
			continue
		}
		files[i].Image = ImageInfo{Width: w, Height: h}
	}

	return files, nil
}

func readImageDimensions(filePath string) (width, height int, err error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
