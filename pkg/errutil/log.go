// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package errutil logs and inspects oops errors.
package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// Code returns the oops error code of err, or "" when it has none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := any(oopsErr.Code()).(string)
	return code
}

// LogError logs err at error level. Oops errors contribute their code,
// domain, hint and context as separate attributes.
func LogError(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, attrs(err)...)
}

// LogWarn is LogError at warning level, for failures the caller recovers from.
func LogWarn(logger *slog.Logger, msg string, err error) {
	logger.Warn(msg, attrs(err)...)
}

func attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	out := []any{"error", oopsErr.Error()}
	if code := Code(err); code != "" {
		out = append(out, "code", code)
	}
	if domain := oopsErr.Domain(); domain != "" {
		out = append(out, "domain", domain)
	}
	if hint := oopsErr.Hint(); hint != "" {
		out = append(out, "hint", hint)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		out = append(out, "context", ctx)
	}
	return out
}
