// Package logging provides the structured logger used across voicebridge.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
)

// Logger is the shape every package in this module depends on. Keeping it
// small and interface-based lets tests swap in a no-op implementation
// without pulling in charmbracelet/log.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// charmLogger adapts charmbracelet/log.Logger to the Logger interface.
type charmLogger struct {
	l *log.Logger
}

// New builds the default logger, writing leveled, colorized output to
// stderr. callUUID is attached as a persistent field so every line a call's
// goroutines emit can be grepped by call.
func New(callUUID string) Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
	})
	if callUUID != "" {
		l = l.With("call", callUUID)
	}
	return &charmLogger{l: l}
}

func (c *charmLogger) Debug(msg string, args ...interface{}) { c.l.Debug(msg, args...) }
func (c *charmLogger) Info(msg string, args ...interface{})  { c.l.Info(msg, args...) }
func (c *charmLogger) Warn(msg string, args ...interface{})  { c.l.Warn(msg, args...) }
func (c *charmLogger) Error(msg string, args ...interface{}) { c.l.Error(msg, args...) }

// NoOp discards everything; useful in tests and for components that don't
// want to pay for a Logger dependency.
type NoOp struct{}

func (NoOp) Debug(msg string, args ...interface{}) {}
func (NoOp) Info(msg string, args ...interface{})  {}
func (NoOp) Warn(msg string, args ...interface{})  {}
func (NoOp) Error(msg string, args ...interface{}) {}
