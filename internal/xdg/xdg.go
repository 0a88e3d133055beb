// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package xdg provides XDG Base Directory paths for blockhost.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "blockhost"

// ConfigFileName is the name of the config file inside ConfigDir.
const ConfigFileName = "config.yaml"

func home() (string, error) {
	if h := os.Getenv("HOME"); h != "" {
		return h, nil
	}
	h, err := os.UserHomeDir()
	if err != nil {
		return "", oops.In("xdg").Code("HOME_UNKNOWN").Wrapf(err, "resolve home directory")
	}
	return h, nil
}

func dir(env string, fallback ...string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appName), nil
	}
	h, err := home()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{h}, fallback...), appName)...), nil
}

// ConfigDir returns the XDG config directory for blockhost.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	return dir("XDG_CONFIG_HOME", ".config")
}

// ConfigFile returns the default config file path.
func ConfigFile() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, ConfigFileName), nil
}

// DataDir returns the XDG data directory for blockhost.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() (string, error) {
	return dir("XDG_DATA_HOME", ".local", "share")
}

// CacheDir returns the XDG cache directory for blockhost.
// Checks XDG_CACHE_HOME first, falls back to ~/.cache.
func CacheDir() (string, error) {
	return dir("XDG_CACHE_HOME", ".cache")
}

// StateDir returns the XDG state directory for blockhost.
// Checks XDG_STATE_HOME first, falls back to ~/.local/state.
func StateDir() (string, error) {
	return dir("XDG_STATE_HOME", ".local", "state")
}

// RuntimeDir returns the XDG runtime directory for blockhost.
// Checks XDG_RUNTIME_DIR first, falls back to StateDir()/run.
func RuntimeDir() (string, error) {
	if base := os.Getenv("XDG_RUNTIME_DIR"); base != "" {
		return filepath.Join(base, appName), nil
	}
	state, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(state, "run"), nil
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.In("xdg").With("path", path).Wrapf(err, "create directory")
	}
	return nil
}
