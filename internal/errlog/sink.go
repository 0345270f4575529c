package errlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxFieldLen = 8 << 10

	rotateMaxSizeMB  = 10
	rotateMaxBackups = 5
	rotateMaxAgeDays = 30
)

// Report is a client-side error submitted by the browser.
type Report struct {
	URL       string `json:"url"`
	Message   string `json:"message"`
	UserAgent string `json:"userAgent"`
	Stack     string `json:"stack"`
}

// Sink writes error reports as JSON lines.
type Sink struct {
	mu      sync.Mutex
	handler slog.Handler
	closer  io.Closer
	now     func() time.Time
}

// New writes reports to w.
func New(w io.Writer) *Sink {
	s := &Sink{
		handler: slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}),
		now:     time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// NewFile writes reports to a size-rotated file at path.
func NewFile(path string) *Sink {
	return New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotateMaxSizeMB,
		MaxBackups: rotateMaxBackups,
		MaxAge:     rotateMaxAgeDays,
		Compress:   true,
	})
}

// Report records r and returns the id assigned to it.
func (s *Sink) Report(ctx context.Context, r Report) (string, error) {
	id := uuid.NewString()
	rec := slog.NewRecord(s.now(), slog.LevelError, "client error", 0)
	rec.AddAttrs(
		slog.String("report_id", id),
		slog.String("url", clip(r.URL)),
		slog.String("message", clip(r.Message)),
		slog.String("user_agent", clip(r.UserAgent)),
		slog.String("stack", clip(r.Stack)),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.handler.Handle(ctx, rec); err != nil {
		return "", fmt.Errorf("writing error report: %w", err)
	}
	return id, nil
}

// Close releases the underlying file, if any.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxFieldLen {
		return s
	}
	cut := maxFieldLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
