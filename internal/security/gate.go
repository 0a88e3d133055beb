// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package security decides which remote URLs extensions may be loaded from.
//
// Host patterns use gobwas/glob with '.' as the segment separator:
//   - '*' matches a single label: "*.example.com" matches "cdn.example.com"
//     but NOT "a.cdn.example.com"
//   - '**' matches any number of labels: "**.example.com" matches both
//
// Denied patterns win over trusted ones.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Error codes for gate decisions.
const (
	CodeDenied     = "URL_DENIED"
	CodeUntrusted  = "URL_UNTRUSTED"
	CodeInvalidURL = "URL_INVALID"
	CodeBadPattern = "URL_PATTERN_INVALID"
)

// Policy configures the gate.
type Policy struct {
	// Trusted lists host patterns extensions may always be loaded from.
	Trusted []string `koanf:"trusted"`
	// Denied lists host patterns that are always refused.
	Denied []string `koanf:"denied"`
	// AllowUntrusted admits hosts matching neither list.
	AllowUntrusted bool `koanf:"allow_untrusted"`
	// UpgradeHTTP rewrites plain http URLs of non-loopback hosts to https.
	UpgradeHTTP bool `koanf:"upgrade_http"`
}

type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// Gate implements the host's URL policy. It is safe for concurrent use.
type Gate struct {
	mu             sync.RWMutex
	trusted        []compiledPattern
	denied         []compiledPattern
	allowUntrusted bool
	upgradeHTTP    bool
}

// NewGate creates a gate enforcing p.
func NewGate(p Policy) (*Gate, error) {
	g := &Gate{}
	if err := g.SetPolicy(p); err != nil {
		return nil, err
	}
	return g, nil
}

// SetPolicy replaces the policy. If any pattern is invalid the current
// policy is kept.
func (g *Gate) SetPolicy(p Policy) error {
	trusted, err := compile(p.Trusted)
	if err != nil {
		return err
	}
	denied, err := compile(p.Denied)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.trusted = trusted
	g.denied = denied
	g.allowUntrusted = p.AllowUntrusted
	g.upgradeHTTP = p.UpgradeHTTP
	return nil
}

// Policy returns the patterns and flags in force.
func (g *Gate) Policy() Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Policy{
		Trusted:        patterns(g.trusted),
		Denied:         patterns(g.denied),
		AllowUntrusted: g.allowUntrusted,
		UpgradeHTTP:    g.upgradeHTTP,
	}
}

func compile(list []string) ([]compiledPattern, error) {
	out := make([]compiledPattern, len(list))
	for i, pattern := range list {
		if pattern == "" {
			return nil, oops.In("security").Code(CodeBadPattern).
				With("index", i).
				Errorf("pattern %d: empty host pattern", i)
		}
		gl, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, oops.In("security").Code(CodeBadPattern).
				With("pattern", pattern).
				Wrapf(err, "pattern %d (%q)", i, pattern)
		}
		out[i] = compiledPattern{pattern: pattern, glob: gl}
	}
	return out, nil
}

func patterns(list []compiledPattern) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.pattern
	}
	return out
}

func matchAny(list []compiledPattern, host string) (string, bool) {
	for _, p := range list {
		if p.glob.Match(host) {
			return p.pattern, true
		}
	}
	return "", false
}

// RewriteURL returns the URL to fetch in place of rawURL, or an error when
// the policy refuses it. Only http and https URLs are subject to the
// policy; other schemes pass through unchanged.
func (g *Gate) RewriteURL(_ context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", oops.In("security").Code(CodeInvalidURL).
			With("url", rawURL).
			Wrapf(err, "parse extension URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return rawURL, nil
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", oops.In("security").Code(CodeInvalidURL).
			With("url", rawURL).
			Errorf("extension URL %s has no host", rawURL)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if pattern, ok := matchAny(g.denied, host); ok {
		slog.Warn("refusing extension URL",
			"url", rawURL,
			"host", host,
			"pattern", pattern)
		return "", oops.In("security").Code(CodeDenied).
			With("url", rawURL).
			With("pattern", pattern).
			Errorf("host %s is denied", host)
	}
	if _, ok := matchAny(g.trusted, host); !ok && !g.allowUntrusted {
		return "", oops.In("security").Code(CodeUntrusted).
			With("url", rawURL).
			Errorf("host %s is not trusted", host)
	}

	if g.upgradeHTTP && u.Scheme == "http" && !isLoopback(host) {
		u.Scheme = "https"
		rewritten := u.String()
		slog.Debug("upgraded extension URL", "from", rawURL, "to", rewritten)
		return rewritten, nil
	}
	return rawURL, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// String describes the policy for logs.
func (g *Gate) String() string {
	p := g.Policy()
	return fmt.Sprintf("trusted=%v denied=%v allowUntrusted=%t upgradeHTTP=%t",
		p.Trusted, p.Denied, p.AllowUntrusted, p.UpgradeHTTP)
}
