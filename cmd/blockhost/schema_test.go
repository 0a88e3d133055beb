// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaCmd_Stdout(t *testing.T) {
	cmd := NewSchemaCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())

	var schema map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &schema))
	assert.Contains(t, out.String(), "extensions")
}

func TestSchemaCmd_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "library.schema.json")
	cmd := NewSchemaCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetArgs([]string{"-o", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Generated "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}
