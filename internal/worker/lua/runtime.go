// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package lua runs extensions written in Lua inside sandboxed gopher-lua
// states.
//
// A script registers extensions by calling blockhost.extensions.register
// with a table. The table carries either an info field or a getInfo
// function, and every other function field is a method the host may call
// as table:method(...). Block methods receive (args, util).
//
//	local pen = { info = { id = "pen", blocks = {{ opcode = "down" }} } }
//	function pen:down(args, util) return true end
//	blockhost.extensions.register(pen)
package lua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/blockhost/blockhost/internal/dispatch"
	"github.com/blockhost/blockhost/internal/library"
	"github.com/blockhost/blockhost/internal/worker"
	"github.com/blockhost/blockhost/pkg/blockext"
)

// DefaultCallTimeout bounds a single call into a script.
const DefaultCallTimeout = 5 * time.Second

// ErrScriptClosed is returned for calls after the worker closed.
var ErrScriptClosed = errors.New("script is closed")

// Reader returns the bytes at a URL.
type Reader interface {
	Read(ctx context.Context, url string) ([]byte, error)
}

// Runtime loads Lua extension scripts.
type Runtime struct {
	reader      Reader
	factory     *StateFactory
	callTimeout time.Duration
}

var _ worker.Runtime = (*Runtime)(nil)

// Option configures a Runtime.
type Option func(*Runtime)

// WithCallTimeout bounds every call into a script, loading included.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		r.callTimeout = d
	}
}

// New creates a Lua runtime reading scripts through reader.
func New(reader Reader, opts ...Option) *Runtime {
	r := &Runtime{
		reader:      reader,
		factory:     NewStateFactory(),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements worker.Runtime.
func (r *Runtime) Name() string { return "lua" }

// Handles implements worker.Runtime: .lua paths and text/x-lua data URLs.
func (r *Runtime) Handles(rawURL string) bool {
	if strings.HasPrefix(rawURL, "data:"+library.LuaMediaType) {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Path, ".lua")
}

// Load implements worker.Runtime.
func (r *Runtime) Load(ctx context.Context, rawURL string) (worker.Session, error) {
	errb := oops.In("lua").With("url", rawURL).With("operation", "load")

	code, err := r.reader.Read(ctx, rawURL)
	if err != nil {
		return nil, errb.Hint("failed to read script").Wrap(err)
	}
	L, err := r.factory.NewState()
	if err != nil {
		return nil, errb.Hint("failed to create state").Wrap(err)
	}

	s := &Script{url: rawURL, L: L, timeout: r.callTimeout}
	s.installAPI()

	loadCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	L.SetContext(loadCtx)
	err = L.DoString(string(code))
	L.RemoveContext()
	if err != nil {
		L.Close()
		return nil, errb.Hint("script error").Wrap(err)
	}
	return s, nil
}

// Script is one loaded Lua state and the extensions it registered. Calls
// into the state are serialized.
type Script struct {
	url     string
	timeout time.Duration

	mu     sync.Mutex
	L      *lua.LState
	hosted []worker.Hosted
	closed bool
}

var _ worker.Session = (*Script)(nil)

// Extensions implements worker.Session.
func (s *Script) Extensions() []worker.Hosted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]worker.Hosted(nil), s.hosted...)
}

// Close implements worker.Session.
func (s *Script) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.L.Close()
	return nil
}

func (s *Script) installAPI() {
	L := s.L
	api := L.NewTable()
	exts := L.NewTable()
	L.SetField(exts, "register", L.NewFunction(s.luaRegister))
	L.SetField(api, "extensions", exts)
	L.SetField(api, "log", L.NewFunction(s.luaLog))
	L.SetGlobal("blockhost", api)
}

// luaRegister records an extension table. It runs during script load, so
// the state is not shared yet.
func (s *Script) luaRegister(L *lua.LState) int {
	table := L.CheckTable(1)
	desc, err := s.descriptor(table)
	if err != nil {
		L.RaiseError("register: %v", err)
		return 0
	}
	fields, _ := desc.(map[string]any)
	id, _ := fields["id"].(string)
	if id == "" {
		L.RaiseError("register: extension has no id")
		return 0
	}
	s.hosted = append(s.hosted, worker.Hosted{
		ID:      id,
		Service: &service{script: s, table: table, id: id},
	})
	return 0
}

func (s *Script) luaLog(L *lua.LState) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)
	logger := slog.With("url", s.url, "source", "lua")
	switch level {
	case "debug":
		logger.Debug(msg)
	case "warn":
		logger.Warn(msg)
	case "error":
		logger.Error(msg)
	default:
		logger.Info(msg)
	}
	return 0
}

// descriptor returns the generic descriptor of an extension table.
func (s *Script) descriptor(table *lua.LTable) (any, error) {
	if fn := table.RawGetString(blockext.MethodGetInfo); fn.Type() == lua.LTFunction {
		if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, table); err != nil {
			return nil, err //nolint:wrapcheck // wrapped by caller
		}
		ret := s.L.Get(-1)
		s.L.Pop(1)
		return fromLua(ret), nil
	}
	info, ok := table.RawGetString("info").(*lua.LTable)
	if !ok {
		return nil, errors.New("extension defines neither info nor getInfo")
	}
	return fromLua(info), nil
}

func (s *Script) call(ctx context.Context, table *lua.LTable, id, method string, args []any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrScriptClosed
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.L.SetContext(callCtx)
	defer s.L.RemoveContext()

	errb := oops.In("lua").With("extension", id).With("method", method)
	if method == blockext.MethodGetInfo {
		desc, err := s.descriptor(table)
		if err != nil {
			return nil, errb.Wrap(err)
		}
		return desc, nil
	}

	fn := table.RawGetString(method)
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%w: %s", dispatch.ErrMethodNotFound, method)
	}
	luaArgs := make([]lua.LValue, 0, len(args)+1)
	luaArgs = append(luaArgs, table)
	for i, a := range args {
		g, err := blockext.Generic(a)
		if err != nil {
			return nil, errb.With("arg", i).Wrap(err)
		}
		luaArgs = append(luaArgs, toLua(s.L, g))
	}
	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, luaArgs...); err != nil {
		return nil, errb.Wrap(err)
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	return fromLua(ret), nil
}

// service exposes one registered extension table on the fabric.
type service struct {
	script *Script
	table  *lua.LTable
	id     string
}

var _ dispatch.Service = (*service)(nil)

func (s *service) IsLocal() bool { return false }

func (s *service) Call(ctx context.Context, method string, args ...any) (any, error) {
	return s.script.call(ctx, s.table, s.id, method, args)
}
