// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package l10n

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockhost/blockhost/pkg/blockext"
	"github.com/blockhost/blockhost/pkg/errutil"
)

func TestFormatter_Fallbacks(t *testing.T) {
	f, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "en", f.Locale())

	assert.Equal(t, "Square", f.Format(blockext.Message{ID: "shape.square", Default: "Square"}))
	assert.Equal(t, "shape.circle", f.Format(blockext.Message{ID: "shape.circle"}))
	assert.Equal(t, "plain", f.Format(blockext.Message{Default: "plain"}))
}

func TestFormatter_Translates(t *testing.T) {
	f, err := New("de-AT")
	require.NoError(t, err)
	require.NoError(t, f.AddMessages("de", map[string]string{"shape.square": "Quadrat"}))

	msg := blockext.Message{ID: "shape.square", Default: "Square"}
	assert.Equal(t, "Quadrat", f.Format(msg), "regional locale matches the base language")
	assert.Equal(t, "Circle", f.Format(blockext.Message{ID: "shape.circle", Default: "Circle"}))

	require.NoError(t, f.SetLocale("fr"))
	assert.Equal(t, "Square", f.Format(msg))
}

func TestFormatter_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yaml")
	require.NoError(t, os.WriteFile(path, []byte("es:\n  shape.square: Cuadrado\n"), 0o600))

	f, err := New("es")
	require.NoError(t, err)
	require.NoError(t, f.LoadFile(path))
	assert.Equal(t, "Cuadrado", f.Format(blockext.Message{ID: "shape.square", Default: "Square"}))

	require.NoError(t, os.WriteFile(path, []byte("es: [not, a, map]\n"), 0o600))
	errutil.AssertErrorCode(t, f.LoadFile(path), "TRANSLATIONS_INVALID")
}

func TestFormatter_InvalidLocale(t *testing.T) {
	_, err := New("not a locale!")
	errutil.AssertErrorCode(t, err, "LOCALE_INVALID")

	f, err := New("en")
	require.NoError(t, err)
	errutil.AssertErrorCode(t, f.AddMessages("??", nil), "LOCALE_INVALID")
}
