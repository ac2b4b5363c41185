package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/rs/zerolog/log"
)

//go:embed static
var staticFS embed.FS
var isDebug = os.Getenv("DEBUG") == "1"

type Config struct {
	Widget           *Widget
	Notifications    *NotificationLog
	OnBeforeShutdown func()
	OnReady          func(addr string)
}

type WebApp struct {
	config       Config
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

func NewWebApp(config Config) *WebApp {
	return &WebApp{
		config:     config,
		shutdownCh: make(chan struct{}),
	}
}

func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

type pointerRequest struct {
	Type   string  `json:"type"`
	Target string  `json:"target"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type configResponse struct {
	Frame   Frame   `json:"frame"`
	Options Options `json:"options"`
}

// statusFor maps widget errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUploadRejected):
		return http.StatusBadGateway
	case errors.Is(err, ErrEncodeFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, ErrSaveInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrDisabled):
		return http.StatusForbidden
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidFileType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrDecodeFailure):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// multipartOverhead covers form boundaries and part headers around the uploaded file.
const multipartOverhead = 1 << 20

// bodyLimit lets files up to the configured maximum reach the loader.
func bodyLimit(opts Options) int {
	if opts.MaxFileSizeMB <= 0 {
		return math.MaxInt32
	}
	limit := opts.MaxFileSizeMB*1024*1024 + multipartOverhead
	if limit >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(limit)
}

// requestContext scopes the widget calls to the request and tags its log lines.
func requestContext(ctx context.Context, c *fiber.Ctx) context.Context {
	logger := log.Ctx(ctx).With().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Logger()
	return logger.WithContext(c.UserContext())
}

func (a *WebApp) newRouter(ctx context.Context) *fiber.App {
	widget := a.config.Widget

	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit(widget.Options()),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			reqCtx := requestContext(ctx, c)
			log.Ctx(reqCtx).Error().Err(err).Msg("Request failed")
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				switch {
				case fiberErr.Code == http.StatusNotFound && c.Path() == "/favicon.ico":
					return nil
				case fiberErr.Code == http.StatusRequestEntityTooLarge:
					err = fmt.Errorf("%w: %s", ErrFileTooLarge, fiberErr.Message)
					widget.notifyError(reqCtx, err)
				default:
					return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
				}
			}
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				return c.Status(status).JSON(fiber.Map{"error": "Internal Server Error"})
			}
			return c.Status(status).JSON(fiber.Map{"error": err.Error(), "kind": errorKind(err)})
		},
	})

	webapp.Get("/api/config", func(c *fiber.Ctx) error {
		return c.JSON(configResponse{Frame: widget.Frame(), Options: widget.Options()})
	})

	webapp.Get("/api/session", func(c *fiber.Ctx) error {
		view := widget.View()
		if view.State == StateClosed {
			return ErrNoSession
		}
		return c.JSON(view)
	})

	webapp.Post("/api/session", func(c *fiber.Ctx) error {
		header, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "missing file")
		}
		f, err := header.Open()
		if err != nil {
			return fmt.Errorf("failed to open uploaded file: %w", err)
		}
		defer f.Close()

		view, err := widget.SelectFile(requestContext(ctx, c), header.Filename, f)
		if err != nil {
			return err
		}
		return c.Status(http.StatusCreated).JSON(view)
	})

	webapp.Delete("/api/session", func(c *fiber.Ctx) error {
		if err := widget.Cancel(requestContext(ctx, c)); err != nil {
			return err
		}
		return c.SendStatus(http.StatusNoContent)
	})

	webapp.Get("/api/session/source", func(c *fiber.Ctx) error {
		img, err := widget.Source()
		if err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, img.ContentType)
		return c.Send(img.Source)
	})

	webapp.Post("/api/session/pointer", func(c *fiber.Ctx) error {
		var request pointerRequest
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid pointer event")
		}
		p := Point{X: request.X, Y: request.Y}

		var view SessionView
		var err error
		switch request.Type {
		case "down":
			target, perr := ParseTarget(request.Target)
			if perr != nil {
				return fiber.NewError(http.StatusBadRequest, perr.Error())
			}
			view, err = widget.PointerDown(target, p)
		case "move":
			view, err = widget.PointerMove(p)
		case "up":
			view, err = widget.PointerUp()
		case "leave":
			view, err = widget.PointerLeave()
		default:
			return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("unknown pointer event %q", request.Type))
		}
		if err != nil {
			return err
		}
		return c.JSON(view)
	})

	webapp.Get("/api/session/preview", func(c *fiber.Ctx) error {
		data, err := widget.Preview(requestContext(ctx, c))
		if err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, "image/jpeg")
		return c.Send(data)
	})

	webapp.Post("/api/session/save", func(c *fiber.Ctx) error {
		if err := widget.Save(requestContext(ctx, c)); err != nil {
			return err
		}
		return c.JSON(widget.View())
	})

	webapp.Get("/api/notifications", func(c *fiber.Ctx) error {
		if a.config.Notifications == nil {
			return c.JSON([]Notification{})
		}
		return c.JSON(a.config.Notifications.List())
	})

	webapp.Post("/api/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return nil
	})

	if isDebug {
		log.Debug().Msg("Debug mode enabled, serving static files from './static' directory")
		webapp.Static("/", "static")
	} else {
		log.Debug().Msg("Serving static files from embedded filesystem")
		webapp.Use("/", filesystem.New(filesystem.Config{
			Root:       http.FS(staticFS),
			PathPrefix: "/static",
		}))
	}

	return webapp
}

func (a *WebApp) Run(ctx context.Context, addr string) error {
	webapp := a.newRouter(ctx)

	webapp.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := a.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
		}
		if fn := a.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		if err := webapp.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
	}()

	// port 0 lets the OS assign a free port
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if err := webapp.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
