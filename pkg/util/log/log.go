// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package log provides context-aware logging for the execution engine.
//
// Call sites attach identity to a context once (job id, phase id) via
// logtags and then log through the package-level functions; every entry
// carries the accumulated tags. The backend is a swappable zap logger so
// embedding servers control encoding and sinks.
package log

import (
	"context"
	"fmt"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	verbosity atomic.Int32
	logger    atomic.Pointer[zap.Logger]
)

func init() {
	logger.Store(zap.NewNop())
}

// SetLogger replaces the backend logger. Passing nil restores the no-op
// logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// SetVerbosity sets the level below which VEventf calls are emitted.
func SetVerbosity(level int32) {
	verbosity.Store(level)
}

// V reports whether verbose events at the given level are enabled. Guards
// expensive argument construction at call sites.
func V(level int32) bool {
	return verbosity.Load() >= level
}

// VEventf logs a verbose event if the given level is enabled.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if !V(level) {
		return
	}
	logger.Load().Debug(render(ctx, format, args...))
}

// Infof logs an informational message.
func Infof(ctx context.Context, format string, args ...interface{}) {
	logger.Load().Info(render(ctx, format, args...))
}

// Warningf logs a warning.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	logger.Load().Warn(render(ctx, format, args...))
}

// Errorf logs an error message.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logger.Load().Error(render(ctx, format, args...))
}

// render prefixes the message with the context's log tags, e.g.
// "[phase=7,n1] received bucket". Formatting goes through redact so errors
// embedded in messages have their redaction markers stripped consistently.
func render(ctx context.Context, format string, args ...interface{}) string {
	msg := string(redact.Sprintf(format, args...).StripMarkers())
	if buf := logtags.FromContext(ctx); buf != nil {
		return fmt.Sprintf("[%s] %s", buf.String(), msg)
	}
	return msg
}
