// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package builtin provides the extensions compiled into the host.
package builtin

import (
	"fmt"

	"github.com/blockhost/blockhost/internal/extension"
	"github.com/blockhost/blockhost/pkg/blockext"
)

// Factories returns constructors for every builtin extension, keyed by id.
func Factories() map[string]extension.Factory {
	return map[string]extension.Factory{
		TextID:    func() (blockext.Extension, error) { return NewText(), nil },
		CounterID: func() (blockext.Extension, error) { return NewCounter(), nil },
	}
}

// Options returns manager options installing every builtin.
func Options() []extension.ManagerOption {
	var opts []extension.ManagerOption
	for id, f := range Factories() {
		opts = append(opts, extension.WithBuiltin(id, f))
	}
	return opts
}

func argString(args blockext.Args, name string) string {
	v, ok := args.Value(name)
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func argNumber(args blockext.Args, name string) float64 {
	v, _ := args.Value(name)
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		var f float64
		if _, err := fmt.Sscan(n, &f); err == nil {
			return f
		}
	}
	return 0
}
