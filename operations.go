package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

type Operations = []Operation

// Operation is one line of a batch: either an automatic cover fit
// or an explicit placement recorded from an interactive session.
type Operation struct {
	Fit   *FitOperation
	Place *PlaceOperation
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	var op struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &op); err != nil {
		return fmt.Errorf("failed to unmarshal operation: %w", err)
	}

	switch op.Type {
	case "fit":
		var fit FitOperation
		if err := json.Unmarshal(data, &fit); err != nil {
			return fmt.Errorf("failed to unmarshal fit operation: %w", err)
		}
		o.Fit = &fit
	case "place":
		var place PlaceOperation
		if err := json.Unmarshal(data, &place); err != nil {
			return fmt.Errorf("failed to unmarshal place operation: %w", err)
		}
		o.Place = &place
	default:
		return fmt.Errorf("unknown operation %q", op.Type)
	}
	return nil
}

func (o Operation) MarshalJSON() ([]byte, error) {
	switch {
	case o.Fit != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			FitOperation
		}{"fit", *o.Fit})
	case o.Place != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			PlaceOperation
		}{"place", *o.Place})
	}
	return nil, fmt.Errorf("empty operation")
}

func (o Operation) filename() string {
	if o.Fit != nil {
		return o.Fit.Filename
	}
	if o.Place != nil {
		return o.Place.Filename
	}
	return ""
}

type FitOperation struct {
	Filename string `json:"filename"`
}

type PlaceOperation struct {
	Filename string   `json:"filename"`
	Geometry Geometry `json:"geometry"`
}

// BatchExecutor runs operations in parallel and hands each result to Upload.
type BatchExecutor struct {
	BaseDir    string
	Loader     *Loader
	Compositor *Compositor
	Upload     UploadHandler
}

func (r BatchExecutor) Exec(ctx context.Context, ops []Operation) error {
	if len(ops) == 0 {
		log.Ctx(ctx).Warn().Msg("no operations to execute")
		return nil
	}

	if err := r.checkOutputs(ops); err != nil {
		return err
	}

	pooler := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(runtime.NumCPU())

	for _, op := range ops {
		pooler.Go(func(ctx context.Context) error {
			if err := r.executeOperation(ctx, op); err != nil {
				log.Ctx(ctx).Error().Err(err).
					Str("filename", op.filename()).
					Msg("failed to execute operation")
				return err
			}
			return nil
		})
	}

	if err := pooler.Wait(); err != nil {
		log.Ctx(ctx).Error().
			Err(err).
			Msg("finished with errors")
		return err
	}

	return nil
}

// outputName is the file an operation writes, relative to the output directory.
func (r BatchExecutor) outputName(op Operation) string {
	if op.Place != nil {
		g := normalizeGeometry(op.Place.Geometry, r.Compositor.Frame)
		return batchOutputName(op.Place.Filename, &g)
	}
	return batchOutputName(op.filename(), nil)
}

// checkOutputs rejects a batch in which two operations would write the same file.
func (r BatchExecutor) checkOutputs(ops []Operation) error {
	seen := make(map[string]string, len(ops))
	for _, op := range ops {
		name := r.outputName(op)
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("operations for %s and %s both write %s", prev, op.filename(), name)
		}
		seen[name] = op.filename()
	}
	return nil
}

func (r BatchExecutor) executeOperation(ctx context.Context, op Operation) error {
	switch {
	case op.Fit != nil:
		return r.executeFit(ctx, *op.Fit)
	case op.Place != nil:
		return r.executePlace(ctx, *op.Place)
	}
	return nil
}

func (r BatchExecutor) executeFit(ctx context.Context, op FitOperation) error {
	log.Ctx(ctx).Info().Str("filename", op.Filename).Msg("fitting")
	img, err := r.Loader.LoadFile(ctx, filepath.Join(r.BaseDir, op.Filename))
	if err != nil {
		return err
	}
	g := InitialGeometry(img.Width, img.Height, r.Compositor.Frame)
	return r.compose(ctx, batchOutputName(op.Filename, nil), img, g)
}

func (r BatchExecutor) executePlace(ctx context.Context, op PlaceOperation) error {
	log.Ctx(ctx).Info().Str("filename", op.Filename).Stringer("geometry", op.Geometry).Msg("placing")
	if op.Geometry.Size.Width <= 0 || op.Geometry.Size.Height <= 0 {
		return fmt.Errorf("invalid geometry for %s: %s", op.Filename, op.Geometry)
	}
	img, err := r.Loader.LoadFile(ctx, filepath.Join(r.BaseDir, op.Filename))
	if err != nil {
		return err
	}
	g := normalizeGeometry(op.Geometry, r.Compositor.Frame)
	return r.compose(ctx, batchOutputName(op.Filename, &g), img, g)
}

func (r BatchExecutor) compose(ctx context.Context, name string, img *LoadedImage, g Geometry) error {
	data, err := r.Compositor.Compose(ctx, img, g)
	if err != nil {
		return err
	}
	return uploader{handler: r.Upload}.upload(ctx, newEncodedImageFile(name, r.Compositor.Frame, data))
}

// normalizeGeometry applies the coverage rules to a recorded geometry.
func normalizeGeometry(g Geometry, f Frame) Geometry {
	size := coverSize(g.Size, f)
	return Geometry{
		Position: clampPosition(g.Position, size, f),
		Size:     size,
	}
}

// fitOperations builds a fit operation for every image file found in dir.
func fitOperations(ctx context.Context, dir, skipDir string) (Operations, error) {
	files, err := walkImages(ctx, dir, skipDir)
	if err != nil {
		return nil, fmt.Errorf("failed to walk dir: %w", err)
	}
	ops := make(Operations, 0, len(files))
	for _, f := range files {
		ops = append(ops, Operation{Fit: &FitOperation{Filename: f.Name}})
	}
	return ops, nil
}
