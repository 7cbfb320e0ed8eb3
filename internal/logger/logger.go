// Package logger provides the structured logging shim used throughout this
// module. It wraps logrus the way github.com/canonical/lxd/shared/logger
// wraps its own backend: a flat Ctx map of fields alongside a message.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Ctx is a set of structured fields attached to a log entry.
type Ctx map[string]any

// Log is the package-wide logger instance. Tests may swap it for one with a
// captured output.
var Log = logrus.New()

func init() {
	Log.SetOutput(os.Stderr)
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func fields(ctx Ctx) logrus.Fields {
	if len(ctx) == 0 {
		return nil
	}

	f := make(logrus.Fields, len(ctx))
	for k, v := range ctx {
		f[k] = v
	}

	return f
}

// Debug logs a debug-level message with the given context fields.
func Debug(msg string, ctx Ctx) { Log.WithFields(fields(ctx)).Debug(msg) }

// Info logs an info-level message with the given context fields.
func Info(msg string, ctx Ctx) { Log.WithFields(fields(ctx)).Info(msg) }

// Warn logs a warning-level message with the given context fields.
func Warn(msg string, ctx Ctx) { Log.WithFields(fields(ctx)).Warn(msg) }

// Error logs an error-level message with the given context fields.
func Error(msg string, ctx Ctx) { Log.WithFields(fields(ctx)).Error(msg) }
