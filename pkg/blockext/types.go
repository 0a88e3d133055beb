// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package blockext defines the API shared by the extension host and the
// extensions it loads: descriptors, block kinds, menus and call arguments.
package blockext

import "context"

// BlockType identifies the kind of a block.
type BlockType string

// Block kinds an extension may declare.
const (
	BlockCommand     BlockType = "command"
	BlockReporter    BlockType = "reporter"
	BlockBoolean     BlockType = "Boolean"
	BlockEvent       BlockType = "event"
	BlockHat         BlockType = "hat"
	BlockConditional BlockType = "conditional"
	BlockLoop        BlockType = "loop"
	BlockButton      BlockType = "button"
	BlockLabel       BlockType = "label"
	BlockXML         BlockType = "xml"
)

// ArgumentType identifies the value type accepted by a block argument.
type ArgumentType string

// Argument types.
const (
	ArgumentAngle   ArgumentType = "angle"
	ArgumentBoolean ArgumentType = "Boolean"
	ArgumentColor   ArgumentType = "color"
	ArgumentNumber  ArgumentType = "number"
	ArgumentString  ArgumentType = "string"
	ArgumentMatrix  ArgumentType = "matrix"
	ArgumentNote    ArgumentType = "note"
	ArgumentImage   ArgumentType = "image"
)

// TargetType restricts which program targets an extension applies to.
type TargetType string

// Target types.
const (
	TargetSprite TargetType = "sprite"
	TargetStage  TargetType = "stage"
)

// MethodGetInfo is the method every extension service answers with its Info.
const MethodGetInfo = "getInfo"

// Info is the descriptor an extension reports about itself.
type Info struct {
	ID             string          `yaml:"id" json:"id"`
	Name           string          `yaml:"name,omitempty" json:"name,omitempty"`
	Blocks         []Block         `yaml:"blocks,omitempty" json:"blocks,omitempty"`
	Menus          map[string]Menu `yaml:"menus,omitempty" json:"menus,omitempty"`
	TargetTypes    []TargetType    `yaml:"targetTypes,omitempty" json:"targetTypes,omitempty"`
	WarningTipText string          `yaml:"warningTipText,omitempty" json:"warningTipText,omitempty"`
	Color1         string          `yaml:"color1,omitempty" json:"color1,omitempty"`
	Color2         string          `yaml:"color2,omitempty" json:"color2,omitempty"`
	Color3         string          `yaml:"color3,omitempty" json:"color3,omitempty"`
	BlockIconURI   string          `yaml:"blockIconURI,omitempty" json:"blockIconURI,omitempty"`
	MenuIconURI    string          `yaml:"menuIconURI,omitempty" json:"menuIconURI,omitempty"`
	DocsURI        string          `yaml:"docsURI,omitempty" json:"docsURI,omitempty"`
}

// Opcodes returns the opcodes declared by the descriptor, skipping
// separators and opcode-less blocks (buttons, labels).
func (i *Info) Opcodes() []string {
	ops := make([]string, 0, len(i.Blocks))
	for _, b := range i.Blocks {
		if b.Separator || b.Opcode == "" {
			continue
		}
		ops = append(ops, b.Opcode)
	}
	return ops
}

// Block returns the block declaring opcode, if any.
func (i *Info) Block(opcode string) (*Block, bool) {
	for idx := range i.Blocks {
		if !i.Blocks[idx].Separator && i.Blocks[idx].Opcode == opcode {
			return &i.Blocks[idx], true
		}
	}
	return nil, false
}

// Clone returns a copy of the descriptor that shares no slices or maps
// with the receiver. Function fields are copied by reference.
func (i *Info) Clone() *Info {
	out := *i
	if i.Blocks != nil {
		out.Blocks = make([]Block, len(i.Blocks))
		for idx, b := range i.Blocks {
			out.Blocks[idx] = b.clone()
		}
	}
	if i.Menus != nil {
		out.Menus = make(map[string]Menu, len(i.Menus))
		for name, m := range i.Menus {
			out.Menus[name] = m.clone()
		}
	}
	if i.TargetTypes != nil {
		out.TargetTypes = append([]TargetType(nil), i.TargetTypes...)
	}
	return &out
}

// Extension is implemented by every in-process extension instance.
type Extension interface {
	Info() Info
}

// Util carries the execution context of a single block call.
type Util struct {
	TargetID string `json:"targetId,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
}

// Mutation is the per-call payload attached to dynamic blocks.
type Mutation struct {
	BlockInfo *Block `json:"blockInfo,omitempty"`
}

// Args are the argument values of a single block call.
type Args struct {
	Values   map[string]any `json:"values,omitempty"`
	Mutation *Mutation      `json:"mutation,omitempty"`
}

// Value returns the named argument value.
func (a Args) Value(name string) (any, bool) {
	v, ok := a.Values[name]
	return v, ok
}

// BlockFunc is the normalized, host-side entry point of a block.
type BlockFunc func(ctx context.Context, args Args, util Util) (any, error)

// ButtonFunc is invoked when a button block is pressed.
type ButtonFunc func(ctx context.Context)

// MenuFunc produces the items of a generator-backed menu when it is opened.
type MenuFunc func(ctx context.Context) ([]MenuItem, error)
