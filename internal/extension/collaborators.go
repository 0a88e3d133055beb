// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package extension

import (
	"context"

	"github.com/blockhost/blockhost/internal/dispatch"
	"github.com/blockhost/blockhost/internal/library"
	"github.com/blockhost/blockhost/internal/signal"
	"github.com/blockhost/blockhost/pkg/blockext"
)

// Engine is the block-execution engine primitives are installed into.
// Primitives are keyed "<extensionID>_<opcode>".
type Engine interface {
	InstallPrimitives(info *blockext.Info) error
	RefreshPrimitives(info *blockext.Info) error
	RemovePrimitives(extensionID string)
	ResetCaches()
}

// Programs is the live program state: every instantiated target,
// including clones, plus the editor context menus are opened in.
type Programs interface {
	// LiveOpcodesWithPrefix returns the distinct opcodes of live blocks
	// starting with prefix, prefix included.
	LiveOpcodesWithPrefix(prefix string) []string
	// RenameOpcodes rewrites every live block whose opcode is a key of
	// renames and returns the number of blocks changed.
	RenameOpcodes(renames map[string]string) int
	// RemoveMonitors drops monitors showing exactly one of opcodes.
	RemoveMonitors(opcodes ...string) int
	// EditingTarget returns the target being edited, if any.
	EditingTarget() (string, bool)
	// StageTarget returns the stage target, if any.
	StageTarget() (string, bool)
	// DynamicMenuItems returns extra items registered under a generator name.
	DynamicMenuItems(generator string) []blockext.MenuItem
	// MarkChanged flags the project as having unsaved changes.
	MarkChanged()
}

// SecurityGate decides whether and how a remote URL may be loaded.
type SecurityGate interface {
	RewriteURL(ctx context.Context, rawURL string) (string, error)
}

// URLResolver maps an extension id to a URL when nothing local knows it.
type URLResolver interface {
	ResolveExtensionURL(ctx context.Context, id string) (string, bool, error)
}

// AliasStore remembers which URL each custom extension was loaded from.
type AliasStore interface {
	KnownURL(ctx context.Context, id string) (string, bool, error)
	SaveURL(ctx context.Context, id, url string) error
	DeleteURL(ctx context.Context, id string) error
}

// Signals receives host-observable notifications.
type Signals interface {
	Emit(name signal.Name, payload any)
}

// Transport creates isolated workers for extension URLs.
type Transport interface {
	CreateWorker(ctx context.Context, url string) (dispatch.Worker, error)
}

// LibraryFetcher retrieves and parses extension library documents.
type LibraryFetcher interface {
	Fetch(ctx context.Context, url string) (*library.Document, error)
}

// Localizer formats localizable messages for the active locale.
type Localizer interface {
	Format(msg blockext.Message) string
}

// Factory constructs a fresh in-process extension instance.
type Factory func() (blockext.Extension, error)

// nopSignals discards signals.
type nopSignals struct{}

func (nopSignals) Emit(signal.Name, any) {}

// defaultLocalizer returns message defaults.
type defaultLocalizer struct{}

func (defaultLocalizer) Format(msg blockext.Message) string {
	return msg.Default
}
