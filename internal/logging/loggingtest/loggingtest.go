// Package loggingtest provides loggers for tests.
package loggingtest

import (
	"log/slog"
	"testing"

	"github.com/alecthomas/scopegraph/internal/logging"
)

// NewForTesting returns a debug logger that writes to the test log.
func NewForTesting(t testing.TB) *slog.Logger {
	return logging.New(testWriter{t}, logging.Config{Level: slog.LevelDebug})
}

type testWriter struct{ t testing.TB }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}
