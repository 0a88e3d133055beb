// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, sub := range []string{"serve", "load", "validate", "schema", "migrate"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "config flag",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "config flag with equals",
			args:     []string{"--config=/etc/blockhost.yaml", "--help"},
			wantFlag: "/etc/blockhost.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile = ""

			cmd := NewRootCmd()
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_OverrideFlagsArePersistent(t *testing.T) {
	cmd := NewRootCmd()
	for _, name := range []string{"log-format", "database-url", "catalog", "locale", "allow-untrusted"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing --%s", name)
	}
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}

func TestRootCommand_InvalidConfigFails(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configFile = ""
	t.Cleanup(func() { configFile = "" })

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"load", "text", "--log-format=xml"})

	require.Error(t, cmd.Execute())
}
