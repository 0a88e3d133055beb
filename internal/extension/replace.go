// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package extension

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blockhost/blockhost/internal/dispatch"
	"github.com/blockhost/blockhost/internal/signal"
	"github.com/blockhost/blockhost/pkg/blockext"
)

// opcodePrefix is the primitive key prefix of extension id.
func opcodePrefix(id string) string {
	return id + "_"
}

// ownsOpcode reports whether full belongs to id. Ids may contain "_", so
// when several loaded ids prefix full the longest one owns it.
func ownsOpcode(id, full string, loaded []string) bool {
	if !strings.HasPrefix(full, opcodePrefix(id)) {
		return false
	}
	for _, other := range loaded {
		if len(other) > len(id) && strings.HasPrefix(full, opcodePrefix(other)) {
			return false
		}
	}
	return true
}

// inUseOpcodes returns the opcodes of id that live program blocks
// reference, without the id prefix, sorted.
func (m *Manager) inUseOpcodes(id string) []string {
	prefix := opcodePrefix(id)
	loaded := m.registry.LoadedIDs()
	seen := make(map[string]struct{})
	for _, full := range m.programs.LiveOpcodesWithPrefix(prefix) {
		if !ownsOpcode(id, full, loaded) {
			continue
		}
		if op, ok := strings.CutPrefix(full, prefix); ok && op != "" {
			seen[op] = struct{}{}
		}
	}
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func effectiveBlockType(b *blockext.Block) blockext.BlockType {
	if b.BlockType == "" {
		return blockext.BlockCommand
	}
	return b.BlockType
}

// checkReplacement refuses a swap that would strand live blocks: every
// in-use opcode must exist in incoming with its block type unchanged.
func checkReplacement(id string, inUse []string, old, incoming *blockext.Info) error {
	var missing, changed []string
	for _, op := range inUse {
		nb, ok := incoming.Block(op)
		if !ok {
			missing = append(missing, op)
			continue
		}
		if old == nil {
			continue
		}
		if ob, ok := old.Block(op); ok && effectiveBlockType(ob) != effectiveBlockType(nb) {
			changed = append(changed, op)
		}
	}
	if len(missing) > 0 {
		return ErrOpcodeNotFound(id, missing)
	}
	if len(changed) > 0 {
		return ErrBlockTypeChanged(id, changed)
	}
	return nil
}

// replaceLocked swaps the implementation behind id's existing service for
// svc. The registry is touched only once every check has passed. Callers
// hold opMu.
func (m *Manager) replaceLocked(ctx context.Context, id, existing string, svc dispatch.Service, raw blockext.Info) error {
	old, _ := m.registry.Info(id)
	if err := checkReplacement(id, m.inUseOpcodes(id), old, &raw); err != nil {
		recordConflict(err)
		slog.Warn("refusing extension replacement",
			"extension", id,
			"code", Code(err),
			"opcodes", Values(err))
		return err
	}

	var err error
	if svc.IsLocal() {
		err = m.fabric.SetServiceSync(existing, svc)
	} else {
		err = m.fabric.SetService(existing, svc)
	}
	if err != nil {
		return oopsErr().With("extension", id).With("service", existing).Wrapf(err, "rebind service")
	}

	info, err := m.normalizer.Normalize(existing, raw)
	if err != nil {
		return err
	}
	if err := m.engine.RefreshPrimitives(info); err != nil {
		return oopsErr().With("extension", id).Wrapf(err, "refresh primitives")
	}
	m.registry.record(id, existing, info)
	m.afterLoaded(ctx, id)

	slog.Info("replaced extension", "extension", id, "service", existing)
	return nil
}

// Replace hot-swaps loaded extension id for ext. It fails without side
// effects when live blocks use an opcode ext drops or retypes.
func (m *Manager) Replace(ctx context.Context, id string, ext blockext.Extension) error {
	if !m.registry.IsLoaded(id) {
		return ErrNotFound(id)
	}
	_, err := m.Register(ctx, id, ext, true)
	return err
}

// ReplaceWithID moves live programs from oldID to the already-loaded
// newID and deletes oldID. When newID lacks an opcode in use, newID is
// deleted again and nothing else changes.
func (m *Manager) ReplaceWithID(ctx context.Context, newID, oldID string) (err error) {
	ctx, span := tracer.Start(ctx, "extension.replace_with_id",
		trace.WithAttributes(
			attribute.String("extension.new", newID),
			attribute.String("extension.old", oldID),
		),
	)
	defer func() { endSpan(span, err) }()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	incoming, ok := m.registry.Info(newID)
	if !ok {
		return ErrNotFound(newID)
	}
	old, ok := m.registry.Info(oldID)
	if !ok {
		return ErrNotFound(oldID)
	}

	if err := checkReplacement(oldID, m.inUseOpcodes(oldID), old, incoming); err != nil {
		recordConflict(err)
		if Code(err) == CodeOpcodeNotFound {
			if derr := m.deleteLocked(ctx, newID); derr != nil {
				slog.Error("failed to revert incoming extension",
					"extension", newID,
					"error", derr)
			}
		}
		return err
	}

	inUse := m.inUseOpcodes(oldID)
	renames := make(map[string]string, len(inUse))
	for _, op := range inUse {
		renames[opcodePrefix(oldID)+op] = opcodePrefix(newID) + op
	}
	renamed := m.programs.RenameOpcodes(renames)
	m.engine.ResetCaches()
	slog.Info("moved live blocks to replacement extension",
		"old", oldID,
		"new", newID,
		"blocks", renamed)

	return m.deleteLocked(ctx, oldID)
}

// Delete unloads id. It fails with OPCODE_IN_USE while live blocks still
// reference its opcodes.
func (m *Manager) Delete(ctx context.Context, id string) (err error) {
	ctx, span := tracer.Start(ctx, "extension.delete",
		trace.WithAttributes(attribute.String("extension.id", id)),
	)
	defer func() { endSpan(span, err) }()

	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.deleteLocked(ctx, id)
}

func (m *Manager) deleteLocked(ctx context.Context, id string) error {
	service, ok := m.registry.ServiceName(id)
	if !ok {
		return ErrNotFound(id)
	}
	if inUse := m.inUseOpcodes(id); len(inUse) > 0 {
		err := ErrOpcodeInUse(id, inUse)
		recordConflict(err)
		return err
	}

	var shown []string
	if info, ok := m.registry.Info(id); ok {
		for i := range info.Blocks {
			if op := info.Blocks[i].Opcode; op != "" {
				shown = append(shown, opcodePrefix(id)+op)
			}
		}
	}

	m.fabric.RemoveService(service)
	m.registry.forget(id)
	if m.aliases != nil {
		if err := m.aliases.DeleteURL(ctx, id); err != nil {
			slog.Warn("failed to forget extension URL", "extension", id, "error", err)
		}
	}
	m.engine.RemovePrimitives(id)
	m.setOwnerLocked(id, -1)
	monitors := m.programs.RemoveMonitors(shown...)
	m.programs.MarkChanged()
	m.signals.Emit(signal.ProjectChanged, id)
	registered.Set(float64(len(m.registry.LoadedIDs())))

	slog.Info("deleted extension",
		"extension", id,
		"service", service,
		"monitors", monitors)
	return nil
}
