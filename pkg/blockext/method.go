// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package blockext

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Method is a named entry point on an extension. Block methods receive
// (Args, Util), menu generators receive the target ID, buttons receive
// nothing.
type Method func(ctx context.Context, args ...any) (any, error)

// MethodProvider is implemented by extensions that expose callable methods.
// Lookup happens at call time, so methods added after registration are
// still reachable.
type MethodProvider interface {
	Method(name string) (Method, bool)
}

// MethodTable is a concurrency-safe MethodProvider that extensions embed.
type MethodTable struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// Set binds name to fn, replacing any previous binding.
func (t *MethodTable) Set(name string, fn Method) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.methods == nil {
		t.methods = make(map[string]Method)
	}
	t.methods[name] = fn
}

// Delete removes a binding.
func (t *MethodTable) Delete(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.methods, name)
}

// Method implements MethodProvider.
func (t *MethodTable) Method(name string) (Method, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.methods[name]
	return fn, ok
}

// BlockMethod adapts a typed block handler. Arguments arriving in generic
// form (decoded from a wire payload) are converted back to Args and Util.
func BlockMethod(fn func(ctx context.Context, args Args, util Util) (any, error)) Method {
	return func(ctx context.Context, raw ...any) (any, error) {
		var (
			args Args
			util Util
		)
		if len(raw) > 0 {
			if err := convert(raw[0], &args); err != nil {
				return nil, fmt.Errorf("block args: %w", err)
			}
		}
		if len(raw) > 1 {
			if err := convert(raw[1], &util); err != nil {
				return nil, fmt.Errorf("block util: %w", err)
			}
		}
		return fn(ctx, args, util)
	}
}

// DynamicBlockMethod adapts a handler that also wants the descriptor the
// call was made with. For dynamic blocks this is the per-call descriptor
// carried in the mutation; it may be nil.
func DynamicBlockMethod(fn func(ctx context.Context, args Args, util Util, block *Block) (any, error)) Method {
	return func(ctx context.Context, raw ...any) (any, error) {
		var block *Block
		if len(raw) > 2 {
			switch typed := raw[2].(type) {
			case nil:
			case *Block:
				block = typed
			default:
				block = &Block{}
				if err := convert(typed, block); err != nil {
					return nil, fmt.Errorf("block info: %w", err)
				}
			}
		}
		inner := BlockMethod(func(ctx context.Context, args Args, util Util) (any, error) {
			return fn(ctx, args, util, block)
		})
		return inner(ctx, raw...)
	}
}

// MenuMethod adapts a menu generator taking the target ID.
func MenuMethod(fn func(ctx context.Context, targetID string) ([]MenuItem, error)) Method {
	return func(ctx context.Context, raw ...any) (any, error) {
		var targetID string
		if len(raw) > 0 && raw[0] != nil {
			targetID = fmt.Sprint(raw[0])
		}
		return fn(ctx, targetID)
	}
}

// ButtonMethod adapts a button handler.
func ButtonMethod(fn func(ctx context.Context)) Method {
	return func(ctx context.Context, _ ...any) (any, error) {
		fn(ctx)
		return nil, nil
	}
}

// convert copies src into dst, going through JSON when src is not already
// of dst's type.
func convert[T any](src any, dst *T) error {
	if src == nil {
		return nil
	}
	if typed, ok := src.(T); ok {
		*dst = typed
		return nil
	}
	if typed, ok := src.(*T); ok && typed != nil {
		*dst = *typed
		return nil
	}
	data, err := json.Marshal(src)
	if err != nil {
		return err //nolint:wrapcheck // wrapped by caller
	}
	return json.Unmarshal(data, dst) //nolint:wrapcheck // wrapped by caller
}
