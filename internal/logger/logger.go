// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the kernel's structured logger: an slog.Logger
// wrapping either a text or a JSON handler, with a five-level severity
// ladder (TRACE < DEBUG < INFO < WARNING < ERROR) that can be reconfigured
// at runtime, and optional rotation of the underlying log file.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Severity levels, ordered the way the kernel's debug ladder expects.
const (
	OFF     = "off"
	ERROR   = "error"
	WARNING = "warning"
	INFO    = "info"
	DEBUG   = "debug"
	TRACE   = "trace"
)

// slog has no built-in TRACE level; stretch the level space below Debug.
const levelTrace = slog.LevelDebug - 4

var severityNames = map[slog.Level]string{
	levelTrace:      "TRACE",
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	slog.LevelWarn:  "WARNING",
	slog.LevelError: "ERROR",
}

func severityToLevel(s string) slog.Level {
	switch s {
	case TRACE:
		return levelTrace
	case DEBUG:
		return slog.LevelDebug
	case INFO:
		return slog.LevelInfo
	case WARNING:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type loggerFactory struct {
	mu     sync.Mutex
	format string // "text" or "json"
}

func (f *loggerFactory) createJSONOrTextHandler(w io.Writer, programLevel *slog.LevelVar, prefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: programLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				lvl := a.Value.Any().(slog.Level)
				a.Key = "severity"
				a.Value = slog.StringValue(severityNames[lvl])
			case slog.MessageKey:
				a.Value = slog.StringValue(prefix + a.Value.String())
			case slog.TimeKey:
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	f.mu.Lock()
	format := f.format
	f.mu.Unlock()
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	if level == OFF {
		programLevel.Set(slog.Level(1 << 30))
		return
	}
	programLevel.Set(severityToLevel(level))
}

var (
	defaultLoggerFactory = &loggerFactory{format: "text"}
	programLevel         = new(slog.LevelVar)
	defaultLogger        = slog.New(defaultLoggerFactory.createJSONOrTextHandler(os.Stderr, programLevel, ""))
)

// Init (re)configures the package-level logger. format is "text" or "json";
// level is one of the severity constants above. out, when non-nil, replaces
// the destination (e.g. an AsyncLogger wrapping lumberjack for rotation).
func Init(format, level string, out io.Writer) {
	defaultLoggerFactory.mu.Lock()
	defaultLoggerFactory.format = format
	defaultLoggerFactory.mu.Unlock()

	if out == nil {
		out = os.Stderr
	}
	setLoggingLevel(level, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJSONOrTextHandler(out, programLevel, ""))
}

func Tracef(format string, args ...any) {
	defaultLogger.Log(context.Background(), levelTrace, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...any) {
	defaultLogger.Debug(fmt.Sprintf(format, args...))
}

func Infof(format string, args ...any) {
	defaultLogger.Info(fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	defaultLogger.Error(fmt.Sprintf(format, args...))
}
