// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package blockext

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SeparatorMarker is the raw form of a separator entry in a block list.
const SeparatorMarker = "---"

// Argument describes one block argument.
type Argument struct {
	Type    ArgumentType `yaml:"type,omitempty" json:"type,omitempty"`
	Default any          `yaml:"defaultValue,omitempty" json:"defaultValue,omitempty"`
	Menu    string       `yaml:"menu,omitempty" json:"menu,omitempty"`
}

// Block describes one entry of an extension's block list.
type Block struct {
	Opcode          string              `yaml:"opcode,omitempty" json:"opcode,omitempty"`
	BlockType       BlockType           `yaml:"blockType,omitempty" json:"blockType,omitempty"`
	Text            string              `yaml:"text,omitempty" json:"text,omitempty"`
	Arguments       map[string]Argument `yaml:"arguments,omitempty" json:"arguments,omitempty"`
	Terminal        bool                `yaml:"terminal,omitempty" json:"terminal,omitempty"`
	BlockAllThreads bool                `yaml:"blockAllThreads,omitempty" json:"blockAllThreads,omitempty"`
	Func            string              `yaml:"func,omitempty" json:"func,omitempty"`
	IsDynamic       bool                `yaml:"isDynamic,omitempty" json:"isDynamic,omitempty"`
	Hidden          bool                `yaml:"hideFromPalette,omitempty" json:"hideFromPalette,omitempty"`
	FilterTargets   []TargetType        `yaml:"filter,omitempty" json:"filter,omitempty"`
	XML             string              `yaml:"xml,omitempty" json:"xml,omitempty"`

	// Separator marks a "---" entry. All other fields are ignored.
	Separator bool `yaml:"-" json:"-"`

	// Invoke is set by the host for callable blocks.
	Invoke BlockFunc `yaml:"-" json:"-"`
	// Press is set by the host for button blocks.
	Press ButtonFunc `yaml:"-" json:"-"`
}

// Separator returns a separator entry.
func Separator() Block {
	return Block{Separator: true}
}

func (b Block) clone() Block {
	out := b
	if b.Arguments != nil {
		out.Arguments = make(map[string]Argument, len(b.Arguments))
		for k, v := range b.Arguments {
			out.Arguments[k] = v
		}
	}
	if b.FilterTargets != nil {
		out.FilterTargets = append([]TargetType(nil), b.FilterTargets...)
	}
	return out
}

// blockFields avoids recursion into the custom decoders.
type blockFields Block

// UnmarshalYAML accepts either a block mapping or the separator marker.
func (b *Block) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if strings.HasPrefix(node.Value, SeparatorMarker) {
			*b = Separator()
			return nil
		}
		return fmt.Errorf("block entry %q is neither a mapping nor a separator", node.Value)
	}
	var f blockFields
	if err := node.Decode(&f); err != nil {
		return err //nolint:wrapcheck // decoder errors carry line info
	}
	*b = Block(f)
	return nil
}

// UnmarshalJSON accepts either a block object or the separator marker.
func (b *Block) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.HasPrefix(s, SeparatorMarker) {
			*b = Separator()
			return nil
		}
		return fmt.Errorf("block entry %q is neither an object nor a separator", s)
	}
	var f blockFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err //nolint:wrapcheck // passthrough of decoder error
	}
	*b = Block(f)
	return nil
}

// MarshalJSON writes separators back as the marker string.
func (b Block) MarshalJSON() ([]byte, error) {
	if b.Separator {
		return json.Marshal(SeparatorMarker) //nolint:wrapcheck // cannot fail for a string
	}
	return json.Marshal(blockFields(b)) //nolint:wrapcheck // passthrough
}
