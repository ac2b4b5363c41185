package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, handler UploadHandler) (*fiber.App, *Widget) {
	t.Helper()
	return newTestRouter(t, context.Background(), DefaultOptions(), handler)
}

func newTestRouter(t *testing.T, ctx context.Context, opts Options, handler UploadHandler) (*fiber.App, *Widget) {
	t.Helper()
	notifications := NewNotificationLog(10)
	w, err := NewWidget(WidgetConfig{
		Options:         opts,
		OnImageSelected: handler,
		Notifier:        notifications,
	})
	require.NoError(t, err)
	app := NewWebApp(Config{Widget: w, Notifications: notifications})
	return app.newRouter(ctx), w
}

// encodeRawPNG writes a PNG without compression, so its size is close to width*height*3.
func encodeRawPNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var b bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(&b, img))
	return b.Bytes()
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func uploadRequest(t *testing.T, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/session", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func pointerEvent(t *testing.T, event string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/session/pointer", strings.NewReader(event))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeView(t *testing.T, resp *http.Response) SessionView {
	t.Helper()
	defer resp.Body.Close()
	var view SessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	return view
}

func TestWeb_Config(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg configResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	assert.Equal(t, DefaultFrame(), cfg.Frame)
	assert.Equal(t, "Choose image", cfg.Options.ButtonText)
}

func TestWeb_SessionFlow(t *testing.T) {
	var saved []EncodedImageFile
	app, _ := newTestApp(t, func(ctx context.Context, file EncodedImageFile) error {
		saved = append(saved, file)
		return nil
	})

	resp := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, app, uploadRequest(t, "beach.png", encodePNG(t, createTestImage(2000, 1000, red))))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	view := decodeView(t, resp)
	assert.Equal(t, StateOpen, view.State)
	assert.InDelta(t, -160, view.Geometry.Position.X, 1e-9)

	resp = doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/session/source", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	resp = doRequest(t, app, pointerEvent(t, `{"type":"down","target":"body","x":0,"y":0}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doRequest(t, app, pointerEvent(t, `{"type":"move","x":50,"y":50}`))
	view = decodeView(t, resp)
	assert.InDelta(t, -110, view.Geometry.Position.X, 1e-9)
	assert.InDelta(t, 0, view.Geometry.Position.Y, 1e-9)
	resp = doRequest(t, app, pointerEvent(t, `{"type":"up"}`))
	assert.Equal(t, "idle", decodeView(t, resp).Interaction)

	resp = doRequest(t, app, pointerEvent(t, `{"type":"down","target":"bottom-right","x":560,"y":360}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doRequest(t, app, pointerEvent(t, `{"type":"move","x":600,"y":360}`))
	view = decodeView(t, resp)
	assert.InDelta(t, 760, view.Geometry.Size.Width, 1e-9)
	assert.InDelta(t, 684, view.Geometry.Size.Height, 1e-9)
	resp = doRequest(t, app, pointerEvent(t, `{"type":"leave"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/session/preview", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	preview, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	resp = doRequest(t, app, httptest.NewRequest(http.MethodPost, "/api/session/save", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, StateClosed, decodeView(t, resp).State)

	require.Len(t, saved, 1)
	assert.Equal(t, "beach.jpg", saved[0].Name)
	assert.Equal(t, preview, saved[0].Data)

	resp = doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
	var notifications []Notification
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&notifications))
	require.Len(t, notifications, 1)
	assert.Equal(t, LevelSuccess, notifications[0].Level)
}

func TestWeb_InvalidUpload(t *testing.T) {
	app, w := newTestApp(t, nil)

	resp := doRequest(t, app, uploadRequest(t, "report.pdf", []byte("%PDF-1.4\n")))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "InvalidFileType", body["kind"])
	assert.Equal(t, StateClosed, w.View().State)
}

func TestWeb_SaveRejected(t *testing.T) {
	app, w := newTestApp(t, func(ctx context.Context, file EncodedImageFile) error {
		return errors.New("backend down")
	})
	doRequest(t, app, uploadRequest(t, "a.png", encodePNG(t, createTestImage(100, 100, red))))

	resp := doRequest(t, app, httptest.NewRequest(http.MethodPost, "/api/session/save", nil))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, StateOpen, w.View().State)
}

func TestWeb_BadPointerEvents(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp := doRequest(t, app, pointerEvent(t, `{"type":"down"}`))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	doRequest(t, app, uploadRequest(t, "a.png", encodePNG(t, createTestImage(100, 100, red))))

	resp = doRequest(t, app, pointerEvent(t, `{"type":"wiggle"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = doRequest(t, app, pointerEvent(t, `{"type":"down","target":"center"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWeb_Cancel(t *testing.T) {
	app, w := newTestApp(t, nil)
	doRequest(t, app, uploadRequest(t, "a.png", encodePNG(t, createTestImage(100, 100, red))))

	resp := doRequest(t, app, httptest.NewRequest(http.MethodDelete, "/api/session", nil))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, StateClosed, w.View().State)

	resp = doRequest(t, app, httptest.NewRequest(http.MethodDelete, "/api/session", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWeb_StaticIndex(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fitframe")
}

func TestWeb_UploadAboveDefaultBodyLimit(t *testing.T) {
	app, w := newTestApp(t, nil)
	data := encodeRawPNG(t, createGradientImage(1400, 1200))
	require.Greater(t, len(data), 4<<20)

	resp := doRequest(t, app, uploadRequest(t, "large.png", data))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	view := decodeView(t, resp)
	assert.Equal(t, 1400, view.ImageWidth)
	assert.Equal(t, StateOpen, w.View().State)
}

func TestWeb_UploadTooLarge(t *testing.T) {
	data := encodeRawPNG(t, createGradientImage(1200, 400))

	tests := []struct {
		name  string
		maxMB float64
	}{
		{name: "rejected by loader", maxMB: 1},
		{name: "rejected by body limit", maxMB: 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.MaxFileSizeMB = tt.maxMB
			app, w := newTestRouter(t, context.Background(), opts, nil)

			resp := doRequest(t, app, uploadRequest(t, "large.png", data))
			assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, "FileTooLarge", body["kind"])
			assert.Equal(t, StateClosed, w.View().State)

			resp = doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
			var notifications []Notification
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&notifications))
			require.Len(t, notifications, 1)
			assert.Equal(t, "FileTooLarge", notifications[0].Kind)
		})
	}
}

func TestBodyLimit(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 10<<20+multipartOverhead, bodyLimit(opts))

	opts.MaxFileSizeMB = 0
	assert.Equal(t, math.MaxInt32, bodyLimit(opts))
}

func TestWeb_SaveUsesRequestContext(t *testing.T) {
	var logs bytes.Buffer
	serverCtx, cancel := context.WithCancel(zerolog.New(&logs).WithContext(context.Background()))
	cancel()

	app, w := newTestRouter(t, serverCtx, DefaultOptions(), func(ctx context.Context, file EncodedImageFile) error {
		log.Ctx(ctx).Info().Msg("storing upload")
		return ctx.Err()
	})
	doRequest(t, app, uploadRequest(t, "a.png", encodePNG(t, createTestImage(100, 100, red))))

	resp := doRequest(t, app, httptest.NewRequest(http.MethodPost, "/api/session/save", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, StateClosed, w.View().State)
	assert.Contains(t, logs.String(), `"path":"/api/session/save"`)
	assert.Contains(t, logs.String(), "storing upload")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrNoSession, http.StatusNotFound},
		{ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{ErrInvalidFileType, http.StatusUnsupportedMediaType},
		{fmt.Errorf("%w: %w", ErrUploadRejected, ErrDecodeFailure), http.StatusBadGateway},
		{fmt.Errorf("%w: %w", ErrEncodeFailure, ErrFileTooLarge), http.StatusUnprocessableEntity},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
