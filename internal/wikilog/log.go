// Package wikilog provides the leveled loggers shared by the wikifs
// client and server: per-level singleton loggers exposing
// Printf/Print/Println, plus package-level shortcuts for the default
// Info level, backed by logrus rather than a hand-rolled io.Writer
// wrapper.
package wikilog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the interface each level exposes.
type Logger interface {
	Printf(format string, v ...interface{})
	Print(v ...interface{})
	Println(v ...interface{})
	Fatalf(format string, v ...interface{})
	Fatal(v ...interface{})
}

type logger struct {
	level logrus.Level
}

var std = logrus.New()

func init() {
	std.SetOutput(os.Stderr)
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	std.SetLevel(logrus.InfoLevel)
}

// The set of default loggers, one per level.
var (
	Debug Logger = &logger{logrus.DebugLevel}
	Info  Logger = &logger{logrus.InfoLevel}
	Error Logger = &logger{logrus.ErrorLevel}
)

func (l *logger) Printf(format string, v ...interface{}) {
	std.WithField("level", l.level.String()).Logf(l.level, format, v...)
}

func (l *logger) Print(v ...interface{}) {
	std.WithField("level", l.level.String()).Log(l.level, v...)
}

func (l *logger) Println(v ...interface{}) {
	std.WithField("level", l.level.String()).Logln(l.level, v...)
}

func (l *logger) Fatalf(format string, v ...interface{}) {
	std.WithField("level", l.level.String()).Logf(l.level, format, v...)
	os.Exit(1)
}

func (l *logger) Fatal(v ...interface{}) {
	std.WithField("level", l.level.String()).Log(l.level, v...)
	os.Exit(1)
}

// SetLevel sets the minimum level that will actually be emitted.
func SetLevel(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	std.SetLevel(l)
	return nil
}

// WithField returns a logrus entry for callers that want structured
// fields (request path, user, status) attached to a single log line,
// e.g. the HTTP API's per-request access log.
func WithField(key string, value interface{}) *logrus.Entry {
	return std.WithField(key, value)
}

// Printf logs at Info level.
func Printf(format string, v ...interface{}) { Info.Printf(format, v...) }

// Print logs at Info level.
func Print(v ...interface{}) { Info.Print(v...) }

// Println logs at Info level.
func Println(v ...interface{}) { Info.Println(v...) }
