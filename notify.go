package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type NotificationLevel string

const (
	LevelSuccess NotificationLevel = "success"
	LevelError   NotificationLevel = "error"
)

// Notification is a user-visible message raised by the widget.
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Time    time.Time         `json:"time"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// LogNotifier writes notifications to the context logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) {
	var ev *zerolog.Event
	if n.Level == LevelError {
		ev = log.Ctx(ctx).Warn()
	} else {
		ev = log.Ctx(ctx).Info()
	}
	ev.Str("kind", n.Kind).Msg(n.Message)
}

// NotificationLog keeps the most recent notifications in memory.
type NotificationLog struct {
	mu    sync.Mutex
	limit int
	items []Notification
}

func NewNotificationLog(limit int) *NotificationLog {
	return &NotificationLog{limit: limit}
}

func (l *NotificationLog) Notify(_ context.Context, n Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, n)
	if l.limit > 0 && len(l.items) > l.limit {
		l.items = l.items[len(l.items)-l.limit:]
	}
}

func (l *NotificationLog) List() []Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Notification, len(l.items))
	copy(out, l.items)
	return out
}

// multiNotifier fans a notification out to several notifiers.
type multiNotifier []Notifier

func (m multiNotifier) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		notifier.Notify(ctx, n)
	}
}

// errorKind names the failure class shown to the user.
// Upload and encode failures win over any loader sentinel they wrap.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrUploadRejected):
		return "UploadRejected"
	case errors.Is(err, ErrEncodeFailure):
		return "EncodeFailure"
	case errors.Is(err, ErrInvalidFileType):
		return "InvalidFileType"
	case errors.Is(err, ErrFileTooLarge):
		return "FileTooLarge"
	case errors.Is(err, ErrDecodeFailure):
		return "DecodeFailure"
	case errors.Is(err, ErrDisabled):
		return "Disabled"
	default:
		return "Error"
	}
}
