package media

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// pion's own debug output is far noisier than ours, so it sits below slog's debug level.
const (
	levelPionTrace = slog.LevelDebug - 8
	levelPionDebug = slog.LevelDebug - 4
)

type loggerFactory struct {
	logger *slog.Logger
}

// NewLoggerFactory routes pion's internal logging to logger, tagged with the pion scope.
func NewLoggerFactory(logger *slog.Logger) logging.LoggerFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return loggerFactory{logger: logger}
}

func (f loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{logger: f.logger.With("pion", scope)}
}

type leveledLogger struct {
	logger *slog.Logger
}

func (l *leveledLogger) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l *leveledLogger) Trace(msg string) { l.log(levelPionTrace, msg) }
func (l *leveledLogger) Tracef(format string, args ...any) {
	l.log(levelPionTrace, fmt.Sprintf(format, args...))
}
func (l *leveledLogger) Debug(msg string) { l.log(levelPionDebug, msg) }
func (l *leveledLogger) Debugf(format string, args ...any) {
	l.log(levelPionDebug, fmt.Sprintf(format, args...))
}
func (l *leveledLogger) Info(msg string) { l.log(slog.LevelInfo, msg) }
func (l *leveledLogger) Infof(format string, args ...any) {
	l.log(slog.LevelInfo, fmt.Sprintf(format, args...))
}
func (l *leveledLogger) Warn(msg string) { l.log(slog.LevelWarn, msg) }
func (l *leveledLogger) Warnf(format string, args ...any) {
	l.log(slog.LevelWarn, fmt.Sprintf(format, args...))
}
func (l *leveledLogger) Error(msg string) { l.log(slog.LevelError, msg) }
func (l *leveledLogger) Errorf(format string, args ...any) {
	l.log(slog.LevelError, fmt.Sprintf(format, args...))
}
