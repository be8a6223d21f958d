package logging

import (
	"context"
	"log"
	"log/slog"
	"strings"
	"sync"
)

// Tracef returns a printf-style function that logs each line of its output to logger at Debug level, tagged with
// the traced component.
//
// It is the shape of [golang.org/x/tools/go/packages.Config] Logf, which traces every "go list" invocation.
func Tracef(logger *slog.Logger, component string) func(format string, args ...any) {
	return Legacy(logger.With("component", component), slog.LevelDebug).Printf
}

// Legacy creates a [log.Logger] that logs each line to the given [log/slog.Logger] at level.
func Legacy(logger *slog.Logger, level slog.Level) *log.Logger {
	return log.New(&slogWriter{logger: logger, level: level}, "", 0)
}

type slogWriter struct {
	mu     sync.Mutex
	logger *slog.Logger
	level  slog.Level
	// Partial line awaiting a newline.
	buffer strings.Builder
}

func (w *slogWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.logger.Enabled(context.Background(), w.level) {
		return len(p), nil
	}
	w.buffer.Write(p)
	text := w.buffer.String()
	i := strings.LastIndexByte(text, '\n')
	if i == -1 {
		return len(p), nil
	}
	for line := range strings.SplitSeq(text[:i], "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			w.logger.Log(context.Background(), w.level, line)
		}
	}
	w.buffer.Reset()
	w.buffer.WriteString(text[i+1:])
	return len(p), nil
}
