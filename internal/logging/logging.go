// Package logging builds the colored console logger bialet uses for
// request, script and supervisor messages, matching the tagged
// "Request"/"Log"/"Error"/"Restarting" lines the original process printed.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fatih/color"
)

// Tags mirrors the color-tagged prefixes the original CLI printed via its
// message()/magenta()/red()/yellow() helpers.
var (
	tagRequest = color.New(color.FgMagenta)
	tagLog     = color.New(color.FgYellow)
	tagError   = color.New(color.FgRed)
	tagWarn    = color.New(color.FgRed)
	tagOK      = color.New(color.FgGreen)
	tagDetail  = color.New(color.FgBlue)
)

// New builds a *slog.Logger that writes colored lines to w when colored is
// true, or plain text lines otherwise (used when -l redirects to a file,
// per spec.md §6).
func New(w io.Writer, colored bool) *slog.Logger {
	if !colored {
		color.NoColor = true
	}
	return slog.New(&consoleHandler{w: w, colored: colored})
}

// consoleHandler is a minimal slog.Handler that renders bialet's tagged,
// single-line console format instead of slog's default key=value layout.
// It ignores structured attrs beyond a short " key=value" tail, matching
// the original's terse one-line-per-event console output.
type consoleHandler struct {
	w       io.Writer
	colored bool
	attrs   []slog.Attr
}

func (h *consoleHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	tag := tagForLevel(r.Level)
	line := fmt.Sprintf("%s %s", tag.Sprint(levelTag(r.Level)), r.Message)

	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})
	for _, a := range h.attrs {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
	}

	_, err := fmt.Fprintf(h.w, "%s %s\n", r.Time.Format(time.Kitchen), line)
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &consoleHandler{w: h.w, colored: h.colored, attrs: append(h.attrs, attrs...)}
}

func (h *consoleHandler) WithGroup(_ string) slog.Handler { return h }

func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "Error"
	case l >= slog.LevelWarn:
		return "Warn"
	case l >= slog.LevelInfo:
		return "Log"
	default:
		return "Debug"
	}
}

func tagForLevel(l slog.Level) *color.Color {
	switch {
	case l >= slog.LevelError:
		return tagError
	case l >= slog.LevelWarn:
		return tagWarn
	default:
		return tagLog
	}
}

// Request logs an incoming request line, matching the original's
// message(magenta("Request"), method, uri) call.
func Request(logger *slog.Logger, method, uri string) {
	logger.Info(tagRequest.Sprint("Request"), "method", method, "uri", uri)
}

// Restarting logs a worker respawn, matching the supervisor's "Restarting"
// message (spec.md §4.6, §7 item 10).
func Restarting(logger *slog.Logger) {
	logger.Error(tagError.Sprint("Restarting"))
}

// Welcome prints the startup banner (original's welcome()).
func Welcome(logger *slog.Logger, url string, production bool) {
	logger.Info(fmt.Sprintf("%s is riding on %s", tagOK.Sprint("bialet"), tagDetail.Sprint(url)))
	if production {
		logger.Info(tagOK.Sprint("Production mode, all good!"))
	} else {
		logger.Warn(tagWarn.Sprint("Development mode, do not use in production!"))
	}
}

// Discard is a logger that writes nowhere, for tests that don't care about
// console output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
