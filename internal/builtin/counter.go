// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package builtin

import (
	"context"
	"sort"
	"sync"

	"github.com/blockhost/blockhost/pkg/blockext"
)

// CounterID is the id of the counter extension.
const CounterID = "counter"

// scopeAll selects every target's counter.
const scopeAll = "_all_"

// Counter keeps one number per target.
type Counter struct {
	blockext.MethodTable

	mu     sync.Mutex
	counts map[string]float64
}

// NewCounter creates the counter extension.
func NewCounter() *Counter {
	c := &Counter{counts: make(map[string]float64)}
	c.Set("increment", blockext.BlockMethod(func(_ context.Context, args blockext.Args, util blockext.Util) (any, error) {
		by := argNumber(args, "BY")
		if _, ok := args.Value("BY"); !ok {
			by = 1
		}
		c.add(util.TargetID, by)
		return nil, nil
	}))
	c.Set("value", blockext.BlockMethod(func(_ context.Context, args blockext.Args, util blockext.Util) (any, error) {
		scope := argString(args, "SCOPE")
		if scope == "" {
			scope = util.TargetID
		}
		return c.value(scope), nil
	}))
	c.Set("whenAbove", blockext.BlockMethod(func(_ context.Context, args blockext.Args, util blockext.Util) (any, error) {
		return c.value(util.TargetID) > argNumber(args, "N"), nil
	}))
	c.Set("reset", blockext.ButtonMethod(func(context.Context) {
		c.Reset()
	}))
	c.Set("scopes", blockext.MenuMethod(func(_ context.Context, targetID string) ([]blockext.MenuItem, error) {
		items := []blockext.MenuItem{
			{Text: "all targets", Message: &blockext.Message{ID: "counter.scope.all", Default: "all targets"}, Value: scopeAll},
		}
		if targetID != "" {
			items = append(items, blockext.Item(targetID))
		}
		for _, id := range c.targets() {
			if id != targetID {
				items = append(items, blockext.Item(id))
			}
		}
		return items, nil
	}))
	return c
}

// Info implements blockext.Extension.
func (c *Counter) Info() blockext.Info {
	return blockext.Info{
		ID:   CounterID,
		Name: "Counter",
		Blocks: []blockext.Block{
			{
				Opcode:    "increment",
				BlockType: blockext.BlockCommand,
				Text:      "change counter by [BY]",
				Arguments: map[string]blockext.Argument{
					"BY": {Type: blockext.ArgumentNumber, Default: 1},
				},
			},
			{
				Opcode:    "value",
				BlockType: blockext.BlockReporter,
				Text:      "counter of [SCOPE]",
				Arguments: map[string]blockext.Argument{
					"SCOPE": {Type: blockext.ArgumentString, Menu: "scopes"},
				},
			},
			blockext.Separator(),
			{
				Opcode:    "whenAbove",
				BlockType: blockext.BlockHat,
				Text:      "when counter > [N]",
				Arguments: map[string]blockext.Argument{
					"N": {Type: blockext.ArgumentNumber, Default: 10},
				},
			},
			{
				Opcode:    "changed",
				BlockType: blockext.BlockEvent,
				Text:      "when counter changes",
			},
			{
				BlockType: blockext.BlockButton,
				Text:      "Reset counters",
				Func:      "reset",
			},
		},
		Menus: map[string]blockext.Menu{
			"scopes": {AcceptReporters: true, ItemsFunc: "scopes"},
		},
	}
}

// Reset clears every counter.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.counts)
}

func (c *Counter) add(target string, by float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[target] += by
}

func (c *Counter) value(scope string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if scope != scopeAll {
		return c.counts[scope]
	}
	var total float64
	for _, n := range c.counts {
		total += n
	}
	return total
}

func (c *Counter) targets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.counts))
	for id := range c.counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
