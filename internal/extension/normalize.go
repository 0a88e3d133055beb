// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package extension

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/blockhost/blockhost/internal/dispatch"
	"github.com/blockhost/blockhost/pkg/blockext"
)

// idPattern is the identifier-character rule for extension ids.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// CompatibilityMessage is shown on extensions outside the compatible set.
var CompatibilityMessage = blockext.Message{
	ID:          "blockhost.extension.compatibilityWarning",
	Default:     "This extension is incompatible with the standard runtime.",
	Description: "Warning shown on extensions that are not part of the standard set.",
}

// ValidID reports whether id satisfies the identifier-character rule.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// NormalizerConfig controls the compatibility warning.
type NormalizerConfig struct {
	ShowCompatibilityWarning bool
	CompatibleExtensions     []string
}

// Normalizer turns raw descriptors into their canonical form and binds
// call wrappers to the hosting service.
type Normalizer struct {
	fabric     *dispatch.Fabric
	programs   Programs
	localizer  Localizer
	showCompat bool
	compatible map[string]struct{}
}

// NewNormalizer creates a normalizer. A nil localizer uses message defaults.
func NewNormalizer(fabric *dispatch.Fabric, programs Programs, localizer Localizer, cfg NormalizerConfig) *Normalizer {
	if localizer == nil {
		localizer = defaultLocalizer{}
	}
	compatible := make(map[string]struct{}, len(cfg.CompatibleExtensions))
	for _, id := range cfg.CompatibleExtensions {
		compatible[id] = struct{}{}
	}
	return &Normalizer{
		fabric:     fabric,
		programs:   programs,
		localizer:  localizer,
		showCompat: cfg.ShowCompatibilityWarning,
		compatible: compatible,
	}
}

// Normalize validates raw and returns its canonical form. Broken blocks
// are logged and omitted. Normalizing a canonical descriptor again yields
// an equal descriptor with freshly bound wrappers.
func (n *Normalizer) Normalize(service string, raw blockext.Info) (*blockext.Info, error) {
	if !ValidID(raw.ID) {
		return nil, ErrInvalidID(raw.ID)
	}
	info := raw.Clone()

	if _, ok := n.compatible[info.ID]; n.showCompat && !ok {
		if info.WarningTipText == "" {
			info.WarningTipText = n.localizer.Format(CompatibilityMessage)
		}
	} else {
		info.WarningTipText = ""
	}
	if info.Name == "" {
		info.Name = info.ID
	}
	if info.TargetTypes == nil {
		info.TargetTypes = []blockext.TargetType{}
	}

	blocks := make([]blockext.Block, 0, len(info.Blocks))
	for i, b := range info.Blocks {
		if b.Separator {
			blocks = append(blocks, b)
			continue
		}
		nb, err := n.normalizeBlock(service, info.ID, i, b)
		if err != nil {
			slog.Error("dropping extension block",
				"extension", info.ID,
				"index", i,
				"opcode", b.Opcode,
				"error", err)
			continue
		}
		blocks = append(blocks, nb)
	}
	info.Blocks = blocks

	if info.Menus == nil {
		info.Menus = map[string]blockext.Menu{}
	}
	for name, m := range info.Menus {
		info.Menus[name] = n.normalizeMenu(service, info.ID, name, m)
	}
	return info, nil
}

func (n *Normalizer) normalizeBlock(service, extID string, index int, b blockext.Block) (blockext.Block, error) {
	b.Invoke = nil
	b.Press = nil
	if b.BlockType == blockext.BlockXML {
		return b, nil
	}
	if b.BlockType == "" {
		b.BlockType = blockext.BlockCommand
	}
	if b.Arguments == nil {
		b.Arguments = map[string]blockext.Argument{}
	}
	if b.Text == "" {
		b.Text = b.Opcode
	}

	switch b.BlockType {
	case blockext.BlockEvent:
		if b.Func != "" {
			slog.Warn("ignoring func for event block",
				"extension", extID,
				"opcode", b.Opcode,
				"func", b.Func)
			b.Func = ""
		}
	case blockext.BlockButton:
		if b.Opcode != "" {
			slog.Warn("ignoring opcode for button",
				"extension", extID,
				"opcode", b.Opcode,
				"text", b.Text)
		}
		b.Press = n.buttonWrapper(service, extID, b.Func)
	case blockext.BlockLabel:
		if b.Opcode != "" {
			slog.Warn("ignoring opcode for label",
				"extension", extID,
				"opcode", b.Opcode,
				"text", b.Text)
		}
	default:
		if b.Opcode == "" {
			return b, ErrMissingOpcode(extID, index)
		}
		b.Invoke = n.callWrapper(service, extID, b)
	}
	return b, nil
}

func (n *Normalizer) buttonWrapper(service, extID, method string) blockext.ButtonFunc {
	return func(ctx context.Context) {
		if _, err := n.fabric.Call(ctx, service, method); err != nil {
			slog.Error("button handler failed",
				"extension", extID,
				"func", method,
				"error", err)
		}
	}
}

// callWrapper binds a callable block to its hosting service. Remote
// results are coerced to number, string or boolean. Local methods are
// resolved per call.
func (n *Normalizer) callWrapper(service, extID string, b blockext.Block) blockext.BlockFunc {
	method := b.Func
	if method == "" {
		method = b.Opcode
	}
	static := b
	realBlock := func(args blockext.Args) *blockext.Block {
		if !static.IsDynamic {
			return &static
		}
		if args.Mutation == nil {
			return nil
		}
		return args.Mutation.BlockInfo
	}

	if n.fabric.IsRemote(service) {
		return func(ctx context.Context, args blockext.Args, util blockext.Util) (any, error) {
			var blockArg any
			if rb := realBlock(args); rb != nil {
				blockArg = rb
			}
			out, err := n.fabric.Call(ctx, service, method, args, util, blockArg)
			if err != nil {
				return nil, err //nolint:wrapcheck // remote errors pass through unchanged
			}
			return coerceResult(out), nil
		}
	}

	if local, ok := n.localService(service); ok && !local.Has(method) {
		slog.Warn("extension block function not found; it may be added later",
			"extension", extID,
			"func", method)
	}
	return func(ctx context.Context, args blockext.Args, util blockext.Util) (any, error) {
		svc, ok := n.fabric.Service(service)
		if !ok {
			slog.Error("extension service is gone",
				"extension", extID,
				"service", service)
			return nil, nil
		}
		var blockArg any
		if rb := realBlock(args); rb != nil {
			blockArg = rb
		}
		local, ok := svc.(*dispatch.LocalService)
		if !ok {
			return svc.Call(ctx, method, args, util, blockArg) //nolint:wrapcheck // passthrough
		}
		fn, ok := local.Method(method)
		if !ok {
			slog.Error("extension method not implemented",
				"extension", extID,
				"func", method)
			return nil, nil
		}
		return fn(ctx, args, util, blockArg)
	}
}

func (n *Normalizer) localService(service string) (*dispatch.LocalService, bool) {
	svc, ok := n.fabric.Service(service)
	if !ok {
		return nil, false
	}
	local, ok := svc.(*dispatch.LocalService)
	return local, ok
}

// coerceResult keeps the value kinds blocks understand and stringifies
// everything else.
func coerceResult(v any) any {
	switch v.(type) {
	case nil:
		return "undefined"
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (n *Normalizer) normalizeMenu(service, extID, name string, m blockext.Menu) blockext.Menu {
	m.Resolve = nil
	if m.IsDynamic() {
		m.Items = nil
		generator := m.ItemsFunc
		m.Resolve = func(ctx context.Context) ([]blockext.MenuItem, error) {
			return n.resolveMenu(ctx, service, extID, name, generator)
		}
		return m
	}
	m.Items = n.localize(m.Items)
	return m
}

func (n *Normalizer) resolveMenu(ctx context.Context, service, extID, menu, generator string) ([]blockext.MenuItem, error) {
	var targetID any
	if id, ok := n.programs.EditingTarget(); ok {
		targetID = id
	} else if id, ok := n.programs.StageTarget(); ok {
		targetID = id
	}

	raw, err := n.fabric.Call(ctx, service, generator, targetID)
	if err != nil {
		return nil, fmt.Errorf("menu %s of %s: %w", menu, extID, err)
	}
	items, err := blockext.ItemsFromValue(raw)
	if err != nil {
		return nil, fmt.Errorf("menu %s of %s: %w", menu, extID, err)
	}
	items = append(items, n.programs.DynamicMenuItems(generator)...)
	items = n.localize(items)
	if len(items) == 0 {
		return nil, ErrEmptyMenu(extID, menu)
	}
	return items, nil
}

func (n *Normalizer) localize(items []blockext.MenuItem) []blockext.MenuItem {
	if items == nil {
		return nil
	}
	out := make([]blockext.MenuItem, len(items))
	for i, item := range items {
		if item.Message != nil {
			item.Text = n.localizer.Format(*item.Message)
		}
		out[i] = item
	}
	return out
}
