package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// EncodedImageFile is the composed output handed to the upload handler.
// It is always JPEG and always exactly frame-sized.
type EncodedImageFile struct {
	Name        string
	ContentType string
	Width       int
	Height      int
	Data        []byte
}

// UploadHandler receives the composed file. A nil error means the upload succeeded;
// any other error is the failure reason.
type UploadHandler func(ctx context.Context, file EncodedImageFile) error

// outputName replaces the extension of the original file name with .jpg.
func outputName(original string) string {
	base := filepath.Base(original)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "image"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".jpg"
}

// batchOutputName keeps the relative directory of a batch source.
// Placements get a geometry suffix.
func batchOutputName(rel string, g *Geometry) string {
	rel = filepath.Clean(rel)
	name := strings.TrimSuffix(rel, filepath.Ext(rel))
	if g != nil {
		name = fmt.Sprintf("%s-%s", name, g.ID())
	}
	return name + ".jpg"
}

func newEncodedImageFile(name string, f Frame, data []byte) EncodedImageFile {
	return EncodedImageFile{
		Name:        name,
		ContentType: "image/jpeg",
		Width:       f.Width,
		Height:      f.Height,
		Data:        data,
	}
}

// uploader invokes the caller's handler. Handler panics count as rejections.
type uploader struct {
	handler UploadHandler
	timeout time.Duration
}

func (u uploader) upload(ctx context.Context, file EncodedImageFile) (err error) {
	if u.handler == nil {
		return fmt.Errorf("%w: no upload handler configured", ErrUploadRejected)
	}
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler panicked: %v", ErrUploadRejected, r)
		}
	}()

	if err := u.handler(ctx, file); err != nil {
		return fmt.Errorf("%w: %w", ErrUploadRejected, err)
	}
	return nil
}

// DirectoryUploader writes uploaded files into Dir. Names may contain
// subdirectories but must stay inside Dir.
type DirectoryUploader struct {
	Dir string
}

func (d DirectoryUploader) Upload(ctx context.Context, file EncodedImageFile) error {
	if !filepath.IsLocal(file.Name) {
		return fmt.Errorf("refusing to write %q outside %s", file.Name, d.Dir)
	}
	target := filepath.Join(d.Dir, file.Name)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", filepath.Dir(target), err)
	}
	if err := os.WriteFile(target, file.Data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", target, err)
	}
	log.Ctx(ctx).Info().Str("path", target).Int("size_bytes", len(file.Data)).Msg("image saved")
	return nil
}
