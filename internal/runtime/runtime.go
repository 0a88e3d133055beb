// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package runtime is an in-memory block engine and program set. It keeps
// the primitive table extensions install into, the targets whose blocks
// reference those primitives, and the monitors shown for reporters.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blockhost/blockhost/pkg/blockext"
)

// Sentinel errors for programmatic error checking.
var (
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrUnknownTarget = errors.New("unknown target")
	ErrUnknownBlock  = errors.New("unknown block")
)

// Block is one block instance in a target.
type Block struct {
	ID     string         `yaml:"id" json:"id"`
	Opcode string         `yaml:"opcode" json:"opcode"`
	Args   map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
}

// Target is a sprite, the stage, or a clone of a sprite.
type Target struct {
	ID      string
	Name    string
	IsStage bool
	// Original is the id of the sprite a clone was made from.
	Original string
	Blocks   map[string]*Block
}

// Monitor shows the value of a reporter.
type Monitor struct {
	ID     string `yaml:"id" json:"id"`
	Opcode string `yaml:"opcode" json:"opcode"`
}

// Runtime is the reference Engine and Programs implementation.
type Runtime struct {
	mu         sync.RWMutex
	primitives map[string]blockext.BlockFunc
	// owned lists the primitive keys each extension installed.
	owned      map[string][]string
	palette    map[string]*blockext.Info
	targets    map[string]*Target
	editing    string
	stage      string
	monitors   map[string]Monitor
	menuItems  map[string][]blockext.MenuItem
	changed    bool
	cacheGen   int
	nextClone  int
}

// New creates an empty runtime.
func New() *Runtime {
	return &Runtime{
		primitives: make(map[string]blockext.BlockFunc),
		owned:      make(map[string][]string),
		palette:    make(map[string]*blockext.Info),
		targets:    make(map[string]*Target),
		monitors:   make(map[string]Monitor),
		menuItems:  make(map[string][]blockext.MenuItem),
	}
}

// PrimitiveKey returns the primitive table key of an extension opcode.
func PrimitiveKey(extensionID, opcode string) string {
	return extensionID + "_" + opcode
}

// InstallPrimitives adds the callable blocks of info to the primitive
// table and its descriptor to the palette.
func (r *Runtime) InstallPrimitives(info *blockext.Info) error {
	if info == nil || info.ID == "" {
		return errors.New("install primitives: descriptor without id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installLocked(info)
	return nil
}

func (r *Runtime) installLocked(info *blockext.Info) {
	var keys []string
	for i := range info.Blocks {
		b := &info.Blocks[i]
		if b.Separator || b.Invoke == nil {
			continue
		}
		key := PrimitiveKey(info.ID, b.Opcode)
		r.primitives[key] = b.Invoke
		keys = append(keys, key)
	}
	r.owned[info.ID] = keys
	r.palette[info.ID] = info
}

// RefreshPrimitives replaces every primitive of info's extension.
func (r *Runtime) RefreshPrimitives(info *blockext.Info) error {
	if info == nil || info.ID == "" {
		return errors.New("refresh primitives: descriptor without id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(info.ID)
	r.installLocked(info)
	r.cacheGen++
	return nil
}

// RemovePrimitives drops every primitive of an extension.
func (r *Runtime) RemovePrimitives(extensionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(extensionID)
}

// removeLocked drops only the keys extensionID installed. Ids may contain
// "_", so "pen" must not sweep the primitives of "pen_extra".
func (r *Runtime) removeLocked(extensionID string) {
	for _, key := range r.owned[extensionID] {
		delete(r.primitives, key)
	}
	delete(r.owned, extensionID)
	delete(r.palette, extensionID)
}

// ResetCaches invalidates anything derived from the primitive table.
func (r *Runtime) ResetCaches() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheGen++
}

// CacheGeneration increases every time caches are reset.
func (r *Runtime) CacheGeneration() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cacheGen
}

// Primitives returns the installed primitive keys, sorted.
func (r *Runtime) Primitives() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.primitives))
	for k := range r.primitives {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasPrimitive reports whether key is installed.
func (r *Runtime) HasPrimitive(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.primitives[key]
	return ok
}

// Palette returns the installed descriptor of an extension.
func (r *Runtime) Palette(extensionID string) (*blockext.Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.palette[extensionID]
	return info, ok
}

// Execute runs the primitive key with args. The table lock is released
// before the primitive runs.
func (r *Runtime) Execute(ctx context.Context, key string, args blockext.Args, util blockext.Util) (any, error) {
	r.mu.RLock()
	fn, ok := r.primitives[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOpcode, key)
	}
	return fn(ctx, args, util)
}

// Run executes a block of a target.
func (r *Runtime) Run(ctx context.Context, targetID, blockID string) (any, error) {
	r.mu.RLock()
	t, ok := r.targets[targetID]
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, targetID)
	}
	b, ok := t.Blocks[blockID]
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, blockID)
	}
	opcode := b.Opcode
	values := make(map[string]any, len(b.Args))
	for k, v := range b.Args {
		values[k] = v
	}
	r.mu.RUnlock()

	return r.Execute(ctx, opcode, blockext.Args{Values: values}, blockext.Util{TargetID: targetID})
}

// AddTarget adds a sprite or the stage. The first target added becomes
// the editing target.
func (r *Runtime) AddTarget(id, name string, isStage bool) *Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &Target{ID: id, Name: name, IsStage: isStage, Blocks: make(map[string]*Block)}
	r.targets[id] = t
	if isStage {
		r.stage = id
	}
	if r.editing == "" {
		r.editing = id
	}
	return t
}

// Clone copies a target and its blocks and returns the clone's id.
func (r *Runtime) Clone(targetID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[targetID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTarget, targetID)
	}
	r.nextClone++
	id := fmt.Sprintf("%s#clone%d", targetID, r.nextClone)
	original := t.Original
	if original == "" {
		original = t.ID
	}
	c := &Target{ID: id, Name: t.Name, Original: original, Blocks: make(map[string]*Block, len(t.Blocks))}
	for bid, b := range t.Blocks {
		cp := *b
		c.Blocks[bid] = &cp
	}
	r.targets[id] = c
	return id, nil
}

// RemoveTarget deletes a target.
func (r *Runtime) RemoveTarget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, id)
	if r.editing == id {
		r.editing = ""
	}
	if r.stage == id {
		r.stage = ""
	}
}

// SetEditingTarget selects the target being edited.
func (r *Runtime) SetEditingTarget(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, id)
	}
	r.editing = id
	return nil
}

// AddBlock adds a block to a target.
func (r *Runtime) AddBlock(targetID string, b Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[targetID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, targetID)
	}
	cp := b
	t.Blocks[b.ID] = &cp
	return nil
}

// RemoveBlock deletes a block from a target.
func (r *Runtime) RemoveBlock(targetID, blockID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.targets[targetID]; ok {
		delete(t.Blocks, blockID)
	}
}

// BlockOpcode returns the opcode of a block.
func (r *Runtime) BlockOpcode(targetID, blockID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[targetID]
	if !ok {
		return "", false
	}
	b, ok := t.Blocks[blockID]
	if !ok {
		return "", false
	}
	return b.Opcode, true
}

// AddMonitor shows a reporter.
func (r *Runtime) AddMonitor(id, opcode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitors[id] = Monitor{ID: id, Opcode: opcode}
}

// Monitors returns the monitors sorted by id.
func (r *Runtime) Monitors() []Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddDynamicMenuItems registers extra items for a menu generator.
func (r *Runtime) AddDynamicMenuItems(generator string, items ...blockext.MenuItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.menuItems[generator] = append(r.menuItems[generator], items...)
}

// LiveOpcodesWithPrefix scans every target, clones included.
func (r *Runtime) LiveOpcodesWithPrefix(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, t := range r.targets {
		for _, b := range t.Blocks {
			if strings.HasPrefix(b.Opcode, prefix) {
				seen[b.Opcode] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for op := range seen {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

// RenameOpcodes rewrites every live block whose opcode is a key of
// renames to the mapped opcode.
func (r *Runtime) RenameOpcodes(renames map[string]string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.targets {
		for _, b := range t.Blocks {
			if next, ok := renames[b.Opcode]; ok {
				b.Opcode = next
				n++
			}
		}
	}
	return n
}

// RemoveMonitors drops the monitors of exactly the given opcodes.
func (r *Runtime) RemoveMonitors(opcodes ...string) int {
	drop := make(map[string]struct{}, len(opcodes))
	for _, op := range opcodes {
		drop[op] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, m := range r.monitors {
		if _, ok := drop[m.Opcode]; ok {
			delete(r.monitors, id)
			n++
		}
	}
	return n
}

// EditingTarget returns the target being edited.
func (r *Runtime) EditingTarget() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.editing, r.editing != ""
}

// StageTarget returns the stage.
func (r *Runtime) StageTarget() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stage, r.stage != ""
}

// TargetIDs returns every target id, clones included, sorted.
func (r *Runtime) TargetIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DynamicMenuItems returns the extra items of a generator.
func (r *Runtime) DynamicMenuItems(generator string) []blockext.MenuItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]blockext.MenuItem(nil), r.menuItems[generator]...)
}

// MarkChanged flags unsaved changes.
func (r *Runtime) MarkChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = true
}

// Changed reports whether the project has unsaved changes.
func (r *Runtime) Changed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.changed
}

// ClearChanged marks the project saved.
func (r *Runtime) ClearChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = false
}
