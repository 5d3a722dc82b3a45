// Package logger defines the logging interface shared by all packages in
// this repository.
//
// Libraries accept a Logger at construction time rather than logging through
// a global, so applications can decide where the output goes. The default
// implementation is backed by logrus; tests generally pass logger.Nil.
package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the interface used by this repository to log messages.
type Logger interface {
	// Debugf logs debugging messages, of little importance to the user.
	Debugf(format string, args ...interface{})
	// Infof logs informational messages on the progress of the application.
	Infof(format string, args ...interface{})
	// Warnf logs messages about conditions worth noting, but that do not
	// affect the result of an operation.
	Warnf(format string, args ...interface{})
	// Errorf logs failures.
	Errorf(format string, args ...interface{})
}

// Go is the default logger, writing to stderr via logrus.
//
// *logrus.Logger implements Logger directly, so applications that need more
// control can configure their own logrus instance and pass it along.
var Go Logger = logrus.StandardLogger()

// Nil is a logger that discards all messages.
var Nil Logger = nilLogger{}

type nilLogger struct{}

func (nilLogger) Debugf(format string, args ...interface{}) {}
func (nilLogger) Infof(format string, args ...interface{})  {}
func (nilLogger) Warnf(format string, args ...interface{})  {}
func (nilLogger) Errorf(format string, args ...interface{}) {}

// New returns a logrus backed Logger writing to the given output.
func New(w io.Writer) Logger {
	log := logrus.New()
	log.SetOutput(w)
	return log
}
