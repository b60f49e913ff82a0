// Package logging provides structured logging for the Pomade sync core.
// It is a thin facade over logrus so call sites stay terse and the output
// format is decided in one place.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	global *logrus.Logger
	once   sync.Once
)

// Init initializes the global logger. Safe to call more than once; only the
// first call wins.
func Init(out io.Writer, level logrus.Level) {
	once.Do(func() {
		l := logrus.New()
		l.SetOutput(out)
		l.SetLevel(level)
		l.SetFormatter(&logrus.JSONFormatter{})
		global = l
	})
}

// Get returns the global logger instance.
func Get() *logrus.Logger {
	if global == nil {
		Init(os.Stdout, logrus.InfoLevel)
	}
	return global
}

// Debug logs a debug message with optional structured fields.
func Debug(message string, fields map[string]interface{}) {
	Get().WithFields(logrus.Fields(fields)).Debug(message)
}

// Info logs an info message with optional structured fields.
func Info(message string, fields map[string]interface{}) {
	Get().WithFields(logrus.Fields(fields)).Info(message)
}

// Warn logs a warning message with optional structured fields.
func Warn(message string, fields map[string]interface{}) {
	Get().WithFields(logrus.Fields(fields)).Warn(message)
}

// Error logs an error message with optional structured fields.
func Error(message string, err error, fields map[string]interface{}) {
	entry := Get().WithFields(logrus.Fields(fields))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}

// ErrorWithCode logs an error message tagged with an application error code.
func ErrorWithCode(message string, code string, err error, fields map[string]interface{}) {
	entry := Get().WithFields(logrus.Fields(fields)).WithField("code", code)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}
