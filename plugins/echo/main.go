// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package main implements the echo binary extension.
// It reports its text argument back, optionally shouted or repeated, and
// counts calls per target.
//
// Build with:
//
//	go build -o echo ./plugins/echo
//
// and list it in a library as
//
//	- id: echo
//	  version: 1.0.0
//	  type: binary
//	  binary:
//	    executable: file:///path/to/echo
package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blockhost/blockhost/pkg/blockext"
	"github.com/blockhost/blockhost/pkg/extsdk"
)

// Echo is the echo extension.
type Echo struct {
	blockext.MethodTable

	mu    sync.Mutex
	calls map[string]int
}

// New creates the echo extension with its methods bound.
func New() *Echo {
	e := &Echo{calls: make(map[string]int)}
	e.Set("echo", blockext.BlockMethod(func(_ context.Context, args blockext.Args, util blockext.Util) (any, error) {
		e.count(util.TargetID)
		return text(args), nil
	}))
	e.Set("shout", blockext.BlockMethod(func(_ context.Context, args blockext.Args, util blockext.Util) (any, error) {
		e.count(util.TargetID)
		return strings.ToUpper(text(args)) + "!", nil
	}))
	e.Set("repeat", blockext.BlockMethod(func(_ context.Context, args blockext.Args, util blockext.Util) (any, error) {
		e.count(util.TargetID)
		n := times(args)
		if n < 1 {
			return "", nil
		}
		return strings.TrimSpace(strings.Repeat(text(args)+" ", n)), nil
	}))
	e.Set("calls", blockext.BlockMethod(func(_ context.Context, _ blockext.Args, util blockext.Util) (any, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.calls[util.TargetID], nil
	}))
	e.Set("styles", blockext.MenuMethod(func(context.Context, string) ([]blockext.MenuItem, error) {
		return []blockext.MenuItem{blockext.Item("plain"), blockext.Item("shout")}, nil
	}))
	return e
}

// Info implements blockext.Extension.
func (e *Echo) Info() blockext.Info {
	return blockext.Info{
		ID:     "echo",
		Name:   "Echo",
		Color1: "#4C97FF",
		Blocks: []blockext.Block{
			{
				Opcode:    "echo",
				BlockType: blockext.BlockReporter,
				Text:      "echo [TEXT]",
				Arguments: map[string]blockext.Argument{
					"TEXT": {Type: blockext.ArgumentString, Default: "hello"},
				},
			},
			{
				Opcode:    "shout",
				BlockType: blockext.BlockReporter,
				Text:      "shout [TEXT]",
				Arguments: map[string]blockext.Argument{
					"TEXT": {Type: blockext.ArgumentString, Default: "hello"},
				},
			},
			{
				Opcode:    "repeat",
				BlockType: blockext.BlockReporter,
				Text:      "repeat [TEXT] [TIMES] times",
				Arguments: map[string]blockext.Argument{
					"TEXT":  {Type: blockext.ArgumentString, Default: "hello"},
					"TIMES": {Type: blockext.ArgumentNumber, Default: 2},
				},
			},
			blockext.Separator(),
			{
				Opcode:    "calls",
				BlockType: blockext.BlockReporter,
				Text:      "echo calls",
			},
		},
		Menus: map[string]blockext.Menu{
			"styles": {ItemsFunc: "styles", AcceptReporters: true},
		},
	}
}

func (e *Echo) count(target string) {
	e.mu.Lock()
	e.calls[target]++
	e.mu.Unlock()
}

func text(args blockext.Args) string {
	v, ok := args.Value("TEXT")
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func times(args blockext.Args) int {
	v, _ := args.Value("TIMES")
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		var i int
		if _, err := fmt.Sscan(n, &i); err == nil {
			return i
		}
	}
	return 0
}

func main() {
	extsdk.Serve(&extsdk.ServeConfig{Extension: New()})
}
