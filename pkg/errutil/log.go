// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package errutil logs and asserts on oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error with structured context if it's an oops error.
// For oops errors, it extracts and logs the message, code and context.
// For standard errors, it logs the error string. args are appended as
// extra attributes.
func LogError(logger *slog.Logger, msg string, err error, args ...any) {
	LogErrorContext(context.Background(), logger, msg, err, args...)
}

// LogErrorContext is LogError with a context, so trace-aware handlers can
// attach the active span.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error, args ...any) {
	logger.ErrorContext(ctx, msg, append(Attrs(err), args...)...)
}

// Attrs returns the slog attributes describing err.
func Attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	if hint := oopsErr.Hint(); hint != "" {
		attrs = append(attrs, "hint", hint)
	}
	return attrs
}
