// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// sourceDepth is the number of trailing path elements kept in the source
// attribute of text logs, e.g. perf/engine.go:120
const sourceDepth = 2

var level = new(slog.LevelVar)

// New returns a logger writing to w in the given format ("text" or "json").
// Unknown levels fall back to info; an unknown format panics since the
// config layer rejects it before a logger is ever built.
func New(lvl, format string, w io.Writer) *slog.Logger {
	level.Set(ParseLevel(lvl))
	return slog.New(handlerFor(format, w))
}

// Level reports the level of the most recently created logger.
func Level() slog.Level {
	return level.Level()
}

func handlerFor(format string, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, AddSource: true}

	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "text":
		opts.ReplaceAttr = shortenSource
		return slog.NewTextHandler(w, opts)
	default:
		panic(fmt.Sprintf("invalid log format: %s", format))
	}
}

// shortenSource trims the source file of a record to its last path elements.
func shortenSource(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	src, ok := a.Value.Any().(*slog.Source)
	if !ok {
		return a
	}
	src.File = trimPath(src.File, sourceDepth)
	return a
}

func trimPath(path string, keep int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) > keep {
		parts = parts[len(parts)-keep:]
	}
	return filepath.Join(parts...)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
