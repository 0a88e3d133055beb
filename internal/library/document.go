// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package library parses and fetches extension library documents: YAML
// catalogs listing the extensions a URL provides and where their code lives.
package library

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Type identifies the extension runtime.
type Type string

// Extension runtimes supported by the host.
const (
	TypeLua    Type = "lua"
	TypeBinary Type = "binary"
)

// LuaMediaType is the media type of inline Lua sources turned into data URLs.
const LuaMediaType = "text/x-lua"

// Document represents an extension library file.
type Document struct {
	Name       string  `yaml:"name" json:"name" jsonschema:"description=Library display name"`
	Extensions []Entry `yaml:"extensions" json:"extensions" jsonschema:"minItems=1"`

	// URL is where the document was fetched from. Set by the fetcher.
	URL string `yaml:"-" json:"-"`
	// Digest is the hex BLAKE2b-256 of the raw document. Set by the fetcher.
	Digest string `yaml:"-" json:"-"`
}

// Entry describes one extension in a library.
type Entry struct {
	ID          string        `yaml:"id" json:"id" jsonschema:"pattern=^[A-Za-z0-9_.-]+$"`
	Name        string        `yaml:"name,omitempty" json:"name,omitempty"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string        `yaml:"version" json:"version"`
	Requires    string        `yaml:"requires,omitempty" json:"requires,omitempty" jsonschema:"description=Host version constraint"`
	Type        Type          `yaml:"type" json:"type" jsonschema:"enum=lua,enum=binary"`
	URL         string        `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"description=Explicit worker URL"`
	Lua         *LuaConfig    `yaml:"lua,omitempty" json:"lua,omitempty"`
	Binary      *BinaryConfig `yaml:"binary,omitempty" json:"binary,omitempty"`
}

// LuaConfig locates the Lua source of an extension.
type LuaConfig struct {
	Entry  string `yaml:"entry,omitempty" json:"entry,omitempty"`
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
}

// BinaryConfig locates a go-plugin executable.
type BinaryConfig struct {
	Executable string `yaml:"executable" json:"executable"`
}

// idPattern mirrors the extension identifier rule.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Parse parses and validates a library document.
func Parse(data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("library data is empty")
	}

	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	return &d, nil
}

// Validate checks document constraints.
func (d *Document) Validate() error {
	if len(d.Extensions) == 0 {
		return fmt.Errorf("library lists no extensions")
	}
	for i := range d.Extensions {
		if err := d.Extensions[i].Validate(); err != nil {
			return fmt.Errorf("extension %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks entry constraints.
func (e *Entry) Validate() error {
	if !idPattern.MatchString(e.ID) {
		return fmt.Errorf("id %q must match [A-Za-z0-9_.-]+", e.ID)
	}
	if e.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.NewVersion(e.Version); err != nil {
		return fmt.Errorf("version %q: %w", e.Version, err)
	}
	if e.Requires != "" {
		if _, err := semver.NewConstraint(e.Requires); err != nil {
			return fmt.Errorf("requires %q: %w", e.Requires, err)
		}
	}

	switch e.Type {
	case TypeLua:
		if e.URL != "" {
			return nil
		}
		if e.Lua == nil {
			return fmt.Errorf("lua is required when type is lua")
		}
		if e.Lua.Entry == "" && e.Lua.Source == "" {
			return fmt.Errorf("lua.entry or lua.source is required")
		}
	case TypeBinary:
		if e.URL != "" {
			return nil
		}
		if e.Binary == nil {
			return fmt.Errorf("binary is required when type is binary")
		}
		if e.Binary.Executable == "" {
			return fmt.Errorf("binary.executable is required")
		}
	default:
		return fmt.Errorf("type must be 'lua' or 'binary', got %q", e.Type)
	}
	return nil
}

// Supports reports whether the entry's host constraint admits hostVersion.
// Entries without a constraint, or a host without a version, always match.
func (e *Entry) Supports(hostVersion *semver.Version) bool {
	if e.Requires == "" || hostVersion == nil {
		return true
	}
	c, err := semver.NewConstraint(e.Requires)
	if err != nil {
		return false
	}
	return c.Check(hostVersion)
}

// Newer reports whether e has a higher version than other.
func (e *Entry) Newer(other *Entry) bool {
	a, errA := semver.NewVersion(e.Version)
	b, errB := semver.NewVersion(other.Version)
	if errA != nil || errB != nil {
		return false
	}
	return a.GreaterThan(b)
}

// WorkerURL returns the URL a worker loads the entry from. Relative
// locations resolve against base, the document URL.
func (e *Entry) WorkerURL(base string) (string, error) {
	if e.URL != "" {
		return resolve(base, e.URL)
	}
	switch e.Type {
	case TypeLua:
		if e.Lua.Source != "" {
			return "data:" + LuaMediaType + ";base64," + base64.StdEncoding.EncodeToString([]byte(e.Lua.Source)), nil
		}
		return resolve(base, e.Lua.Entry)
	case TypeBinary:
		u, err := resolve(base, e.Binary.Executable)
		if err != nil {
			return "", err
		}
		if parsed, _ := url.Parse(u); parsed == nil || parsed.Scheme != "file" {
			return "", fmt.Errorf("binary extension %s must be local, got %s", e.ID, u)
		}
		return u, nil
	default:
		return "", fmt.Errorf("unknown type %q", e.Type)
	}
}

func resolve(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", ref, err)
	}
	if r.IsAbs() || base == "" {
		return r.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", base, err)
	}
	return b.ResolveReference(r).String(), nil
}
