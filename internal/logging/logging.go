// Package logging provides the server's structured logger: a small
// interface over logrus (the backend the teacher's own logger package
// wraps), carrying the field-injection and level-control surface this
// server needs without the teacher's full multi-hook/multi-writer
// framework.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus's level ordinals so callers need not import logrus
// directly.
type Level uint32

const (
	ErrorLevel Level = Level(logrus.ErrorLevel)
	WarnLevel  Level = Level(logrus.WarnLevel)
	InfoLevel  Level = Level(logrus.InfoLevel)
	DebugLevel Level = Level(logrus.DebugLevel)
)

// Logger is the structured logger every component receives through
// server.Deps, never through a package-level global.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	SetLevel(lvl Level)
	GetLevel() Level
}

type logger struct {
	e *logrus.Entry
}

// New builds a Logger writing JSON-less, human-readable entries to w at
// the given level (matching the teacher's logger package default text
// formatter rather than its optional JSON/syslog/gorm hooks, none of which
// this server exercises).
func New(w io.Writer, lvl Level) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.Level(lvl))
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logger{e: logrus.NewEntry(l)}
}

// Default builds a Logger writing to stderr at InfoLevel, the server's
// baseline before configuration is loaded.
func Default() Logger {
	return New(os.Stderr, InfoLevel)
}

func (l *logger) WithField(key string, value interface{}) Logger {
	return &logger{e: l.e.WithField(key, value)}
}

func (l *logger) WithFields(fields map[string]interface{}) Logger {
	return &logger{e: l.e.WithFields(fields)}
}

func (l *logger) Debug(args ...interface{}) { l.e.Debug(args...) }
func (l *logger) Info(args ...interface{})  { l.e.Info(args...) }
func (l *logger) Warn(args ...interface{})  { l.e.Warn(args...) }
func (l *logger) Error(args ...interface{}) { l.e.Error(args...) }

func (l *logger) SetLevel(lvl Level) {
	l.e.Logger.SetLevel(logrus.Level(lvl))
}

func (l *logger) GetLevel() Level {
	return Level(l.e.Logger.GetLevel())
}
