// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package library_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockhost/blockhost/internal/library"
)

const validDoc = `
name: samples
extensions:
  - id: greeter
    version: 1.0.0
    type: lua
    lua:
      entry: greeter.lua
  - id: greeter
    version: 1.2.0
    type: lua
    lua:
      source: |
        return 1
  - id: clock
    version: 0.1.0
    type: binary
    requires: ">= 2.0.0"
    binary:
      executable: bin/clock
`

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "valid", yaml: validDoc},
		{name: "empty", yaml: "", wantErr: "empty"},
		{name: "no extensions", yaml: "name: x\nextensions: []\n", wantErr: "no extensions"},
		{
			name:    "bad id",
			yaml:    "extensions:\n  - id: \"a b\"\n    version: 1.0.0\n    type: lua\n    lua: {entry: a.lua}\n",
			wantErr: "must match",
		},
		{
			name:    "bad version",
			yaml:    "extensions:\n  - id: a\n    version: nope\n    type: lua\n    lua: {entry: a.lua}\n",
			wantErr: "version",
		},
		{
			name:    "lua without source",
			yaml:    "extensions:\n  - id: a\n    version: 1.0.0\n    type: lua\n",
			wantErr: "lua is required",
		},
		{
			name:    "binary without executable",
			yaml:    "extensions:\n  - id: a\n    version: 1.0.0\n    type: binary\n    binary: {}\n",
			wantErr: "executable",
		},
		{
			name:    "unknown type",
			yaml:    "extensions:\n  - id: a\n    version: 1.0.0\n    type: wasm\n",
			wantErr: "type must be",
		},
		{
			name:    "bad constraint",
			yaml:    "extensions:\n  - id: a\n    version: 1.0.0\n    requires: nope\n    type: lua\n    url: https://x/a.lua\n",
			wantErr: "requires",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := library.Parse([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, doc.Extensions, 3)
		})
	}
}

func TestEntry_WorkerURL(t *testing.T) {
	base := "https://libs.example.com/v1/library.yaml"

	lua := library.Entry{ID: "a", Type: library.TypeLua, Lua: &library.LuaConfig{Entry: "ext/a.lua"}}
	got, err := lua.WorkerURL(base)
	require.NoError(t, err)
	assert.Equal(t, "https://libs.example.com/v1/ext/a.lua", got)

	inline := library.Entry{ID: "b", Type: library.TypeLua, Lua: &library.LuaConfig{Source: "return 1"}}
	got, err = inline.WorkerURL(base)
	require.NoError(t, err)
	mediaType, data, err := library.DecodeDataURL(got)
	require.NoError(t, err)
	assert.Equal(t, library.LuaMediaType, mediaType)
	assert.Equal(t, "return 1", string(data))

	explicit := library.Entry{ID: "c", Type: library.TypeLua, URL: "https://cdn.example.com/c.lua"}
	got, err = explicit.WorkerURL(base)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/c.lua", got)

	bin := library.Entry{ID: "d", Type: library.TypeBinary, Binary: &library.BinaryConfig{Executable: "bin/d"}}
	_, err = bin.WorkerURL(base)
	assert.Error(t, err, "binaries must be local")

	got, err = bin.WorkerURL("file:///opt/ext/library.yaml")
	require.NoError(t, err)
	assert.Equal(t, "file:///opt/ext/bin/d", got)
}

func TestFetcher_FileKeepsNewestAndFiltersHost(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validDoc), 0o600))

	f := library.NewFetcher(library.WithHostVersion(semver.MustParse("1.0.0")))
	doc, err := f.Fetch(context.Background(), "file://"+path)
	require.NoError(t, err)

	require.Len(t, doc.Extensions, 1)
	assert.Equal(t, "greeter", doc.Extensions[0].ID)
	assert.Equal(t, "1.2.0", doc.Extensions[0].Version)
	assert.Equal(t, "file://"+path, doc.URL)
	assert.Equal(t, library.Digest([]byte(validDoc)), doc.Digest)
	assert.Len(t, doc.Digest, 64)
}

func TestFetcher_HTTPRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(validDoc))
	}))
	defer srv.Close()

	f := library.NewFetcher(library.WithRetries(5, time.Millisecond))
	doc, err := f.Fetch(context.Background(), srv.URL+"/library.yaml")
	require.NoError(t, err)
	assert.Equal(t, "samples", doc.Name)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetcher_HTTPDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := library.NewFetcher(library.WithRetries(5, time.Millisecond))
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetcher_ReadSchemes(t *testing.T) {
	f := library.NewFetcher()

	data, err := f.Read(context.Background(), "data:,hello%20world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	_, err = f.Read(context.Background(), "ftp://example.com/x")
	assert.ErrorIs(t, err, library.ErrUnsupportedScheme)
}

func TestDecodeDataURL_Errors(t *testing.T) {
	_, _, err := library.DecodeDataURL("http://x")
	assert.Error(t, err)
	_, _, err = library.DecodeDataURL("data:text/plain")
	assert.Error(t, err)
	_, _, err = library.DecodeDataURL("data:;base64,@@@")
	assert.Error(t, err)
}

func TestSchema(t *testing.T) {
	schema, err := library.GenerateSchema()
	require.NoError(t, err)
	assert.Contains(t, string(schema), library.SchemaID)

	require.NoError(t, library.ValidateSchema([]byte(validDoc)))

	err = library.ValidateSchema([]byte("name: x\nextensions:\n  - id: a\n"))
	require.Error(t, err)
	assert.NotEmpty(t, library.FormatSchemaError(err))
	assert.False(t, strings.HasPrefix(library.FormatSchemaError(err), "schema validation failed"))

	assert.Error(t, library.ValidateSchema(nil))
}
