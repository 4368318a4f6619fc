package internal

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

var logger *slog.Logger

func init() {
	SetLogOutput(os.Stderr)
}

// logLevel reads LOG_LEVEL, defaulting to info
func logLevel() slog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "ERROR":
		return slog.LevelError
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "DEBUG", "TRACE":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// SetLogOutput rebuilds the process logger on top of w.
// The chat UI owns the terminal, so it points logs at a file before starting.
func SetLogOutput(w io.Writer) {
	level := logLevel()

	var handler slog.Handler
	if strings.ToUpper(os.Getenv("LOG_FORMAT")) == "JSON" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.Attr{
						Key:   "timestamp",
						Value: slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano)),
					}
				}
				return a
			},
		})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.Attr{
						Key:   slog.TimeKey,
						Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05.000-07:00")),
					}
				}
				return a
			},
		})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

func Logf(format string, args ...interface{}) {
	logger.Info(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	logger.Error(fmt.Sprintf(format, args...))
}

func LogWarn(format string, args ...interface{}) {
	logger.Warn(fmt.Sprintf(format, args...))
}

func LogDebug(format string, args ...interface{}) {
	logger.Debug(fmt.Sprintf(format, args...))
}

func fieldArgs(component string, fields map[string]interface{}) []any {
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "component", component)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// Structured logging functions with component and fields
func LogInfoWithFields(component, message string, fields map[string]interface{}) {
	logger.Info(message, fieldArgs(component, fields)...)
}

func LogDebugWithFields(component, message string, fields map[string]interface{}) {
	logger.Debug(message, fieldArgs(component, fields)...)
}

func LogErrorWithFields(component, message string, fields map[string]interface{}) {
	logger.Error(message, fieldArgs(component, fields)...)
}

func LogWarnWithFields(component, message string, fields map[string]interface{}) {
	logger.Warn(message, fieldArgs(component, fields)...)
}
