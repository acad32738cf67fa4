package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// PrintfAdapter exposes an slog.Logger through the printf-style logger
// interface used by embedded databases such as Badger.
type PrintfAdapter struct {
	logger *slog.Logger
}

// NewPrintfAdapter wraps logger. If logger is nil, slog.Default() is used.
func NewPrintfAdapter(logger *slog.Logger) *PrintfAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PrintfAdapter{logger: logger}
}

func (a *PrintfAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Error(sprintf(format, args...))
}

func (a *PrintfAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Warn(sprintf(format, args...))
}

func (a *PrintfAdapter) Infof(format string, args ...interface{}) {
	a.logger.Info(sprintf(format, args...))
}

func (a *PrintfAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debug(sprintf(format, args...))
}

// Logger returns the underlying slog.Logger for direct access when needed.
func (a *PrintfAdapter) Logger() *slog.Logger {
	return a.logger
}

// Badger terminates its messages with a newline.
func sprintf(format string, args ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
