// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blockhost/blockhost/internal/config"
	"github.com/blockhost/blockhost/pkg/errutil"
)

type mockMigrator struct {
	mock.Mock
}

func (m *mockMigrator) Up() error         { return m.Called().Error(0) }
func (m *mockMigrator) Down() error       { return m.Called().Error(0) }
func (m *mockMigrator) Steps(n int) error { return m.Called(n).Error(0) }
func (m *mockMigrator) Force(v int) error { return m.Called(v).Error(0) }
func (m *mockMigrator) Close() error      { return m.Called().Error(0) }

func (m *mockMigrator) Version() (uint, bool, error) {
	args := m.Called()
	return args.Get(0).(uint), args.Bool(1), args.Error(2)
}

func (m *mockMigrator) PendingMigrations() ([]uint, error) {
	args := m.Called()
	return args.Get(0).([]uint), args.Error(1)
}

func (m *mockMigrator) AppliedMigrations() ([]uint, error) {
	args := m.Called()
	return args.Get(0).([]uint), args.Error(1)
}

// runMigrate executes "migrate <args>" against m and returns the output.
func runMigrate(t *testing.T, m *mockMigrator, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DATABASE_URL", "")
	configFile = ""

	var gotURL string
	root := &cobra.Command{Use: "blockhost", SilenceUsage: true, SilenceErrors: true}
	config.RegisterFlags(root.PersistentFlags())
	root.AddCommand(newMigrateCmd(func(databaseURL string) (Migrator, error) {
		gotURL = databaseURL
		return m, nil
	}))

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"migrate", "--database-url=postgres://localhost/blockhost", "--log-format=text"}, args...))
	err := root.Execute()
	if err == nil {
		assert.Equal(t, "postgres://localhost/blockhost", gotURL)
	}
	return buf.String(), err
}

func TestMigrate_Up(t *testing.T) {
	m := &mockMigrator{}
	m.On("Up").Return(nil)
	m.On("Close").Return(nil)

	out, err := runMigrate(t, m, "up")
	require.NoError(t, err)
	assert.Contains(t, out, "Migrations applied successfully")
	m.AssertExpectations(t)
}

func TestMigrate_DownSteps(t *testing.T) {
	m := &mockMigrator{}
	m.On("Steps", -2).Return(nil)
	m.On("Close").Return(nil)

	out, err := runMigrate(t, m, "down", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Rolled back 2 migration(s)")
	m.AssertExpectations(t)
}

func TestMigrate_DownRejectsNonPositiveSteps(t *testing.T) {
	m := &mockMigrator{}
	m.On("Close").Return(nil)

	_, err := runMigrate(t, m, "down", "0")
	errutil.AssertErrorCode(t, err, "INVALID_VERSION")
	m.AssertNotCalled(t, "Steps", mock.Anything)
}

func TestMigrate_Status(t *testing.T) {
	m := &mockMigrator{}
	m.On("Version").Return(uint(1), false, nil)
	m.On("AppliedMigrations").Return([]uint{1}, nil)
	m.On("PendingMigrations").Return([]uint{2}, nil)
	m.On("Close").Return(nil)

	out, err := runMigrate(t, m, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: 1 (clean)")
	assert.Contains(t, out, "Applied: 1")
	assert.Contains(t, out, "000002_extension_urls_url_index")
}

func TestMigrate_ForceWrapsFailure(t *testing.T) {
	m := &mockMigrator{}
	m.On("Force", 1).Return(errors.New("no such version"))
	m.On("Close").Return(nil)

	_, err := runMigrate(t, m, "force", "1")
	errutil.AssertErrorCode(t, err, "MIGRATION_FAILED")
	errutil.AssertErrorContext(t, err, "version", 1)
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"3", 3, false},
		{"0", 0, false},
		{"  42", 42, false},
		{"-1", -1, false},
		{"abc", 0, true},
		{"1.5", 0, true},
		{"", 0, true},
		{"   ", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseVersion(tt.input)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, "INVALID_VERSION")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetDatabaseURL(t *testing.T) {
	cfg := config.Defaults()
	_, err := getDatabaseURL(cfg)
	errutil.AssertErrorCode(t, err, config.CodeInvalid)

	cfg.Database.URL = "postgres://localhost:5432/testdb"
	got, err := getDatabaseURL(cfg)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost:5432/testdb", got)
}

func TestAutoMigrate(t *testing.T) {
	t.Run("applies pending", func(t *testing.T) {
		m := &mockMigrator{}
		m.On("PendingMigrations").Return([]uint{1, 2}, nil)
		m.On("Up").Return(nil)
		m.On("Close").Return(nil)

		require.NoError(t, autoMigrate("postgres://x", func(string) (Migrator, error) { return m, nil }))
		m.AssertExpectations(t)
	})

	t.Run("skips when up to date", func(t *testing.T) {
		m := &mockMigrator{}
		m.On("PendingMigrations").Return([]uint{}, nil)
		m.On("Close").Return(nil)

		require.NoError(t, autoMigrate("postgres://x", func(string) (Migrator, error) { return m, nil }))
		m.AssertNotCalled(t, "Up")
	})

	t.Run("factory failure", func(t *testing.T) {
		err := autoMigrate("postgres://x", func(string) (Migrator, error) { return nil, errors.New("refused") })
		errutil.AssertErrorCode(t, err, "DB_CONNECT_FAILED")
	})
}
