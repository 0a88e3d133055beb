// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package errutil_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockhost/blockhost/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log line: %s", buf.String())
	return entry
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.In("store").
		Code("SCHEMA_MISSING").
		Hint("run `blockhost migrate up`").
		With("extension", "pen").
		Errorf("relation does not exist")

	errutil.LogError(logger, "lookup failed", err)

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "lookup failed", entry["msg"])
	assert.Equal(t, "SCHEMA_MISSING", entry["code"])
	assert.Equal(t, "store", entry["domain"])
	assert.Equal(t, "run `blockhost migrate up`", entry["hint"])
	assert.Equal(t, map[string]any{"extension": "pen"}, entry["context"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "operation failed", errors.New("standard error"))

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Contains(t, entry["error"], "standard error")
	assert.NotContains(t, entry, "code")
}

func TestLogWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogWarn(logger, "extension skipped", oops.Code("ALREADY_LOADED").Errorf("pen"))

	entry := decode(t, &buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "ALREADY_LOADED", entry["code"])
}

func TestCode(t *testing.T) {
	assert.Equal(t, "X", errutil.Code(oops.Code("X").Errorf("x")))
	assert.Equal(t, "X", errutil.Code(oops.Wrapf(oops.Code("X").Errorf("x"), "outer")))
	assert.Empty(t, errutil.Code(errors.New("plain")))
	assert.Empty(t, errutil.Code(nil))
}
