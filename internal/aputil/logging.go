// Package aputil collects small process-wide helpers used across the
// daemon's components: structured logging setup and throttled warning
// loggers, in the style this codebase has always used its internal
// "aputil" package for.
package aputil

import (
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	atomicLevel = zap.NewAtomicLevel()
	procName    string
	tloggers    = make(map[string]*ThrottledLogger)
)

// ThrottledLogger wraps a sugared zap logger to rate-limit a repeated
// warning/error down to exponential backoff, so a flapping network event
// or a down tunnel provider doesn't flood the log.
type ThrottledLogger struct {
	slog      *zap.SugaredLogger
	next      time.Time
	baseDelay time.Duration
	maxDelay  time.Duration
	curDelay  time.Duration
}

// Clear resets the logger's backoff to its base delay.
func (t *ThrottledLogger) Clear() {
	t.next = time.Now()
	t.curDelay = t.baseDelay
}

func (t *ThrottledLogger) ready() bool {
	if now := time.Now(); now.After(t.next) {
		t.next = now.Add(t.curDelay)
		t.curDelay *= 2
		if t.curDelay > t.maxDelay {
			t.curDelay = t.maxDelay
		}
		return true
	}
	return false
}

// Warnf issues a throttled WARN message.
func (t *ThrottledLogger) Warnf(format string, a ...interface{}) {
	if t.ready() {
		t.slog.Warnf(format, a...)
	}
}

// Errorf issues a throttled ERROR message.
func (t *ThrottledLogger) Errorf(format string, a ...interface{}) {
	if t.ready() {
		t.slog.Errorf(format, a...)
	}
}

// GetThrottledLogger returns the throttled logger unique to its call site,
// allocating it on first use.
func GetThrottledLogger(slog *zap.SugaredLogger, start, max time.Duration) *ThrottledLogger {
	var key string
	if _, file, line, ok := runtime.Caller(1); ok {
		key = file + ":" + strconv.Itoa(line)
	} else {
		key = "unknown"
	}

	t, ok := tloggers[key]
	if !ok {
		l := slog.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar()
		t = &ThrottledLogger{
			slog:      l,
			next:      time.Now(),
			baseDelay: start,
			curDelay:  start,
			maxDelay:  max,
		}
		tloggers[key] = t
	}
	return t
}

func zapTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02T15:04:05.000Z0700"))
}

// zapCallerEncoder annotates each message with the process name and the
// file:line it came from, including the containing directory when that
// differs from the process name (our components live one-per-package).
func zapCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	dir, fileName := filepath.Split(caller.File)
	dir = filepath.Base(dir)
	if dir != procName {
		fileName = filepath.Join(dir, fileName)
	}
	enc.AppendString(fmt.Sprintf("%s:%s:%d", procName, fileName, caller.Line))
}

// LogSetLevel adjusts the global log level at runtime ("debug", "info", ...).
func LogSetLevel(level string) error {
	var newLevel zapcore.Level
	if err := (&newLevel).UnmarshalText([]byte(level)); err != nil {
		return err
	}
	atomicLevel.SetLevel(newLevel)
	return nil
}

// NewLogger builds the process-wide sugared zap logger. name tags every
// line (e.g. "provisiond") and is also used to elide the directory from
// caller locations within that same package.
func NewLogger(name string, debug bool) *zap.SugaredLogger {
	procName = name
	if debug {
		atomicLevel.SetLevel(zapcore.DebugLevel)
	}

	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = atomicLevel
	zapConfig.DisableStacktrace = true
	zapConfig.EncoderConfig.EncodeTime = zapTimeEncoder
	zapConfig.EncoderConfig.EncodeCaller = zapCallerEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		log.Panicf("can't build logger: %s", err)
	}

	return logger.Sugar()
}
