package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dantte-lp/govxlan/internal/config"
)

// syslogTag identifies govxland entries in the system log.
const syslogTag = "govxland"

// newLogger creates a structured logger writing to the configured output.
// The returned closer is nil for stderr. Syslog that cannot be reached
// falls back to stderr with a warning.
func newLogger(cfg config.LogConfig, console bool, level *slog.LevelVar) (*slog.Logger, io.Closer) {
	output := cfg.Output
	if console {
		output = config.OutputStderr
	}

	w, closer, err := openLogOutput(output, cfg)
	if err != nil {
		w, closer = os.Stderr, nil
		logger := newLoggerWithWriter(w, cfg.Format, level)
		logger.Warn("log output unavailable, using stderr",
			slog.String("output", output),
			slog.String("error", err.Error()),
		)
		return logger, closer
	}

	return newLoggerWithWriter(w, cfg.Format, level), closer
}

func newLoggerWithWriter(w io.Writer, format string, level *slog.LevelVar) *slog.Logger {
	if pw, ok := w.(priorityWriter); ok {
		return slog.New(newSyslogHandler(pw, format, level))
	}
	return slog.New(newFormatHandler(w, format, level))
}

func newFormatHandler(w io.Writer, format string, level *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "text":
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

// priorityWriter is the severity-aware side of *syslog.Writer.
type priorityWriter interface {
	Err(m string) error
	Warning(m string) error
	Info(m string) error
	Debug(m string) error
}

// syslogHandler formats records like the other outputs and sends each
// one at the syslog severity matching its level. Handlers derived with
// WithAttrs or WithGroup share the buffer and its lock.
type syslogHandler struct {
	w     priorityWriter
	mu    *sync.Mutex
	buf   *bytes.Buffer
	inner slog.Handler
}

func newSyslogHandler(w priorityWriter, format string, level *slog.LevelVar) *syslogHandler {
	buf := new(bytes.Buffer)
	return &syslogHandler{
		w:     w,
		mu:    new(sync.Mutex),
		buf:   buf,
		inner: newFormatHandler(buf, format, level),
	}
}

func (h *syslogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *syslogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf.Reset()
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	msg := strings.TrimSuffix(h.buf.String(), "\n")

	switch {
	case r.Level >= slog.LevelError:
		return h.w.Err(msg)
	case r.Level >= slog.LevelWarn:
		return h.w.Warning(msg)
	case r.Level >= slog.LevelInfo:
		return h.w.Info(msg)
	default:
		return h.w.Debug(msg)
	}
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &syslogHandler{w: h.w, mu: h.mu, buf: h.buf, inner: h.inner.WithAttrs(attrs)}
}

func (h *syslogHandler) WithGroup(name string) slog.Handler {
	return &syslogHandler{w: h.w, mu: h.mu, buf: h.buf, inner: h.inner.WithGroup(name)}
}

func openLogOutput(output string, cfg config.LogConfig) (io.Writer, io.Closer, error) {
	switch output {
	case config.OutputSyslog:
		w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, syslogTag)
		if err != nil {
			return nil, nil, fmt.Errorf("open syslog: %w", err)
		}
		return w, w, nil
	case config.OutputFile:
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		return lj, lj, nil
	default:
		return os.Stderr, nil, nil
	}
}

func closeLogOutput(c io.Closer) {
	if c == nil {
		return
	}
	_ = c.Close()
}
