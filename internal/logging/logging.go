package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// New creates a *slog.Logger writing JSON to stderr and optionally to logFile.
// It also sets the logger as the slog default so package-level slog calls work.
// The returned cleanup func closes the log file if one was opened; callers must
// defer it.
func New(level, logFile string) (*slog.Logger, func(), error) {
	writers := []io.Writer{os.Stderr}
	cleanup := func() {}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to open log file", goerr.V("path", logFile))
		}
		writers = append(writers, f)
		cleanup = func() { _ = f.Close() }
	}

	logger := NewWithWriter(io.MultiWriter(writers...), level)
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

// NewWithWriter builds the JSON logger on an arbitrary writer without touching
// the slog default.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

// ErrAttr renders err for a log line. Values attached with goerr.V are
// included so the context survives into the log.
func ErrAttr(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	var ge *goerr.Error
	if errors.As(err, &ge) && len(ge.Values()) > 0 {
		return slog.Group("error",
			slog.String("message", err.Error()),
			slog.Any("values", ge.Values()),
		)
	}
	return slog.String("error", err.Error())
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
