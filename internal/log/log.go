// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package log exports a logger interface used by taskkit. It wraps a
// caller-supplied Base logger with a runtime level gate so calls below the
// configured level are skipped cheaply in production.
package log

import (
	"fmt"
	stdlog "log"
	"os"
	"sync"
)

// Level denotes the minimum log level to output.
type Level int32

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// Base is the minimal logging interface a caller can plug in.
type Base interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
}

// Logger wraps a Base logger with a level gate and formatted helpers.
type Logger struct {
	mu    sync.Mutex
	base  Base
	level Level
}

// NewLogger returns a Logger wrapping base. If base is nil, a default
// stdlib-backed logger writing to stderr is used.
func NewLogger(base Base) *Logger {
	if base == nil {
		base = newDefaultLogger()
	}
	return &Logger{base: base, level: InfoLevel}
}

func (l *Logger) SetLevel(lvl Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = lvl
}

func (l *Logger) level_() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Logger) Debug(args ...interface{}) {
	if l.level_() <= DebugLevel {
		l.base.Debug(args...)
	}
}

func (l *Logger) Info(args ...interface{}) {
	if l.level_() <= InfoLevel {
		l.base.Info(args...)
	}
}

func (l *Logger) Warn(args ...interface{}) {
	if l.level_() <= WarnLevel {
		l.base.Warn(args...)
	}
}

func (l *Logger) Error(args ...interface{}) {
	if l.level_() <= ErrorLevel {
		l.base.Error(args...)
	}
}

func (l *Logger) Fatal(args ...interface{}) {
	l.base.Fatal(args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.level_() <= DebugLevel {
		l.base.Debug(fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.level_() <= InfoLevel {
		l.base.Info(fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.level_() <= WarnLevel {
		l.base.Warn(fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.level_() <= ErrorLevel {
		l.base.Error(fmt.Sprintf(format, args...))
	}
}

// defaultLogger is a thin adapter over the standard library logger.
type defaultLogger struct {
	*stdlog.Logger
}

func newDefaultLogger() *defaultLogger {
	return &defaultLogger{stdlog.New(os.Stderr, "taskkit: ", stdlog.LstdFlags|stdlog.Lmicroseconds)}
}

func (l *defaultLogger) Debug(args ...interface{}) { l.Print(args...) }
func (l *defaultLogger) Info(args ...interface{})  { l.Print(args...) }
func (l *defaultLogger) Warn(args ...interface{})  { l.Print(args...) }
func (l *defaultLogger) Error(args ...interface{}) { l.Print(args...) }
func (l *defaultLogger) Fatal(args ...interface{}) { l.Logger.Fatal(args...) }
