package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type SessionState string

const (
	StateClosed SessionState = "closed"
	StateOpen   SessionState = "open"
	StateSaving SessionState = "saving"
)

// Session is one crop interaction, from file selection to save or cancel.
type Session struct {
	ID         string
	Image      *LoadedImage
	OpenedAt   time.Time
	controller *Controller
}

// SessionView is a read-only snapshot of the widget state.
type SessionView struct {
	ID          string       `json:"id,omitempty"`
	State       SessionState `json:"state"`
	Filename    string       `json:"filename,omitempty"`
	ImageWidth  int          `json:"image_width,omitempty"`
	ImageHeight int          `json:"image_height,omitempty"`
	Frame       Frame        `json:"frame"`
	Geometry    *Geometry    `json:"geometry,omitempty"`
	Interaction string       `json:"interaction,omitempty"`
}

type WidgetConfig struct {
	Options Options
	// OnImageSelected receives the composed file on save.
	OnImageSelected UploadHandler
	Notifier        Notifier
	GestureScope    GestureScope
	// Rasterizer overrides the backend named in Options.
	Rasterizer Rasterizer
}

// Widget owns at most one crop session and drives it through
// closed, open and saving.
type Widget struct {
	mu         sync.Mutex
	opts       Options
	frame      Frame
	loader     *Loader
	compositor *Compositor
	uploader   uploader
	notifier   Notifier
	scope      GestureScope

	state   SessionState
	session *Session
}

func NewWidget(cfg WidgetConfig) (*Widget, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid widget options: %w", err)
	}

	r := cfg.Rasterizer
	if r == nil {
		var err error
		r, err = NewRasterizer(cfg.Options.Rasterizer, cfg.Options.BackgroundColor(), cfg.Options.Quality)
		if err != nil {
			return nil, err
		}
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}

	frame := cfg.Options.Frame()
	return &Widget{
		opts:       cfg.Options,
		frame:      frame,
		loader:     NewLoader(cfg.Options),
		compositor: NewCompositor(frame, r),
		uploader:   uploader{handler: cfg.OnImageSelected, timeout: cfg.Options.UploadTimeout},
		notifier:   notifier,
		scope:      cfg.GestureScope,
		state:      StateClosed,
	}, nil
}

func (w *Widget) Options() Options { return w.opts }

func (w *Widget) Frame() Frame { return w.frame }

// SelectFile loads a file and opens a new session for it, replacing any open one.
// On failure no session is opened and one error notification is raised.
func (w *Widget) SelectFile(ctx context.Context, name string, r io.Reader) (SessionView, error) {
	if w.opts.Disabled {
		err := fmt.Errorf("%w: cannot select %s", ErrDisabled, name)
		w.notifyError(ctx, err)
		return w.View(), err
	}

	w.mu.Lock()
	saving := w.state == StateSaving
	w.mu.Unlock()
	if saving {
		return w.View(), ErrSaveInProgress
	}

	img, err := w.loader.Load(ctx, name, r)
	if err != nil {
		w.notifyError(ctx, err)
		return w.View(), err
	}

	geometry := InitialGeometry(img.Width, img.Height, w.frame)
	session := &Session{
		ID:       uuid.NewString(),
		Image:    img,
		OpenedAt: time.Now(),
	}
	session.controller = NewController(w.frame, geometry, w.scope, w.sessionLogger(ctx, session.ID))

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateSaving {
		return w.viewLocked(), ErrSaveInProgress
	}
	w.closeLocked()
	w.session = session
	w.state = StateOpen

	log.Ctx(ctx).Info().
		Str("session", session.ID).
		Str("filename", name).
		Stringer("geometry", geometry).
		Msg("session opened")
	return w.viewLocked(), nil
}

func (w *Widget) View() SessionView {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

func (w *Widget) viewLocked() SessionView {
	view := SessionView{State: w.state, Frame: w.frame}
	if w.session == nil {
		return view
	}
	g := w.session.controller.Geometry()
	view.ID = w.session.ID
	view.Filename = w.session.Image.Name
	view.ImageWidth = w.session.Image.Width
	view.ImageHeight = w.session.Image.Height
	view.Geometry = &g
	view.Interaction = w.session.controller.State().String()
	return view
}

// Source returns the loaded image of the open session.
func (w *Widget) Source() (*LoadedImage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return nil, ErrNoSession
	}
	return w.session.Image, nil
}

func (w *Widget) PointerDown(target Handle, p Point) (SessionView, error) {
	return w.interact(func(c *Controller) { c.PointerDown(target, p) })
}

func (w *Widget) PointerMove(p Point) (SessionView, error) {
	return w.interact(func(c *Controller) { c.PointerMove(p) })
}

func (w *Widget) PointerUp() (SessionView, error) {
	return w.interact(func(c *Controller) { c.PointerUp() })
}

func (w *Widget) PointerLeave() (SessionView, error) {
	return w.interact(func(c *Controller) { c.PointerLeave() })
}

func (w *Widget) interact(fn func(c *Controller)) (SessionView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case StateClosed:
		return w.viewLocked(), ErrNoSession
	case StateSaving:
		return w.viewLocked(), ErrSaveInProgress
	}
	fn(w.session.controller)
	return w.viewLocked(), nil
}

// Preview composes the current geometry without touching the session state.
func (w *Widget) Preview(ctx context.Context) ([]byte, error) {
	w.mu.Lock()
	if w.session == nil {
		w.mu.Unlock()
		return nil, ErrNoSession
	}
	img, g := w.session.Image, w.session.controller.Geometry()
	w.mu.Unlock()

	return w.compositor.Compose(ctx, img, g)
}

// Save composes the frame and hands it to the upload handler. Only one save runs at a time.
// Success closes the session; any failure leaves it open for another attempt.
func (w *Widget) Save(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case StateClosed:
		w.mu.Unlock()
		return ErrNoSession
	case StateSaving:
		w.mu.Unlock()
		return ErrSaveInProgress
	}
	session := w.session
	session.controller.PointerUp()
	img, g := session.Image, session.controller.Geometry()
	w.state = StateSaving
	w.mu.Unlock()

	logger := log.Ctx(ctx).With().Str("session", session.ID).Logger()
	ctx = logger.WithContext(ctx)

	err := w.save(ctx, img, g)

	w.mu.Lock()
	if err != nil {
		w.state = StateOpen
		w.mu.Unlock()
		logger.Error().Err(err).Msg("save failed")
		w.notifyError(ctx, err)
		return err
	}
	if w.session == session {
		w.session = nil
	}
	w.state = StateClosed
	w.mu.Unlock()

	logger.Info().Str("filename", outputName(img.Name)).Msg("session saved")
	w.notifier.Notify(ctx, Notification{
		Level:   LevelSuccess,
		Kind:    "Saved",
		Message: fmt.Sprintf("%s saved", outputName(img.Name)),
		Time:    time.Now(),
	})
	return nil
}

func (w *Widget) save(ctx context.Context, img *LoadedImage, g Geometry) error {
	data, err := w.compositor.Compose(ctx, img, g)
	if err != nil {
		return err
	}
	return w.uploader.upload(ctx, newEncodedImageFile(outputName(img.Name), w.frame, data))
}

// Cancel discards the open session without producing output.
func (w *Widget) Cancel(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case StateClosed:
		return ErrNoSession
	case StateSaving:
		return ErrSaveInProgress
	}
	id := w.session.ID
	w.closeLocked()
	log.Ctx(ctx).Info().Str("session", id).Msg("session cancelled")
	return nil
}

func (w *Widget) closeLocked() {
	if w.session != nil {
		w.session.controller.PointerUp()
	}
	w.session = nil
	w.state = StateClosed
}

func (w *Widget) notifyError(ctx context.Context, err error) {
	w.notifier.Notify(ctx, Notification{
		Level:   LevelError,
		Kind:    errorKind(err),
		Message: err.Error(),
		Time:    time.Now(),
	})
}

func (w *Widget) sessionLogger(ctx context.Context, id string) zerolog.Logger {
	return log.Ctx(ctx).With().Str("session", id).Logger()
}
