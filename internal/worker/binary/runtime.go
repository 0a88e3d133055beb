// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package binary runs extensions built with pkg/extsdk as separate
// processes using HashiCorp's go-plugin over net/rpc.
package binary

import (
	"context"
	"errors"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/blockhost/blockhost/internal/dispatch"
	"github.com/blockhost/blockhost/internal/worker"
	"github.com/blockhost/blockhost/pkg/blockext"
	"github.com/blockhost/blockhost/pkg/extsdk"
)

// DefaultCallTimeout bounds a single call into an extension process.
const DefaultCallTimeout = 5 * time.Second

// ErrProcessClosed is returned for calls after the worker closed.
var ErrProcessClosed = errors.New("extension process is closed")

// PluginClient wraps the go-plugin client for testability.
type PluginClient interface {
	// Client returns the RPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the extension process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client.
func (DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig: extsdk.HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			extsdk.PluginName: &extsdk.Plugin{},
		},
		Cmd:              exec.Command(execPath), // #nosec G204 -- path comes from a cataloged, gate-approved file URL
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolNetRPC},
	})
}

// Extension is the host-side view of a dispensed extension.
// *extsdk.RPCClient implements it.
type Extension interface {
	Info(ctx context.Context) (blockext.Info, error)
	Call(ctx context.Context, method string, args ...any) (any, error)
}

// Runtime starts binary extensions.
type Runtime struct {
	factory     ClientFactory
	callTimeout time.Duration
}

var _ worker.Runtime = (*Runtime)(nil)

// Option configures a Runtime.
type Option func(*Runtime)

// WithClientFactory replaces the go-plugin client factory.
func WithClientFactory(f ClientFactory) Option {
	return func(r *Runtime) {
		r.factory = f
	}
}

// WithCallTimeout bounds every call into an extension process.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		r.callTimeout = d
	}
}

// New creates a binary runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		factory:     DefaultClientFactory{},
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements worker.Runtime.
func (r *Runtime) Name() string { return "binary" }

// Handles implements worker.Runtime: local files that are not Lua scripts.
func (r *Runtime) Handles(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "file" && u.Path != "" && !strings.HasSuffix(u.Path, ".lua")
}

// Load implements worker.Runtime.
func (r *Runtime) Load(ctx context.Context, rawURL string) (worker.Session, error) {
	errb := oops.In("binary").With("url", rawURL).With("operation", "load")

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errb.Wrap(err)
	}
	if _, err := os.Stat(u.Path); err != nil {
		return nil, errb.With("path", u.Path).Hint("extension executable not accessible").Wrap(err)
	}

	client := r.factory.NewClient(u.Path)
	proto, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, errb.Hint("failed to connect to extension").Wrap(err)
	}
	raw, err := proto.Dispense(extsdk.PluginName)
	if err != nil {
		client.Kill()
		return nil, errb.Hint("failed to dispense extension").Wrap(err)
	}
	ext, ok := raw.(Extension)
	if !ok {
		client.Kill()
		return nil, errb.Errorf("dispensed %T does not implement Extension", raw)
	}

	infoCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	info, err := ext.Info(infoCtx)
	if err != nil {
		client.Kill()
		return nil, errb.Hint("failed to read descriptor").Wrap(err)
	}

	p := &Process{client: client}
	p.hosted = []worker.Hosted{{
		ID:      info.ID,
		Service: &service{process: p, ext: ext, id: info.ID, timeout: r.callTimeout},
	}}
	return p, nil
}

// Process is one running extension executable.
type Process struct {
	client PluginClient
	hosted []worker.Hosted

	mu     sync.RWMutex
	closed bool
}

var _ worker.Session = (*Process)(nil)

// Extensions implements worker.Session.
func (p *Process) Extensions() []worker.Hosted {
	return append([]worker.Hosted(nil), p.hosted...)
}

// Close implements worker.Session.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.client.Kill()
	return nil
}

func (p *Process) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// service exposes the extension on the fabric. The process lock is not
// held during calls; a call racing Close fails when the process dies.
type service struct {
	process *Process
	ext     Extension
	id      string
	timeout time.Duration
}

var _ dispatch.Service = (*service)(nil)

func (s *service) IsLocal() bool { return false }

func (s *service) Call(ctx context.Context, method string, args ...any) (any, error) {
	if s.process.isClosed() {
		return nil, ErrProcessClosed
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if method == blockext.MethodGetInfo {
		info, err := s.ext.Info(callCtx)
		if err != nil {
			return nil, oops.In("binary").With("extension", s.id).With("method", method).Wrap(err)
		}
		return info, nil
	}
	out, err := s.ext.Call(callCtx, method, args...)
	if err != nil {
		return nil, oops.In("binary").With("extension", s.id).With("method", method).Wrap(err)
	}
	return out, nil
}
