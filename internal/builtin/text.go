// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package builtin

import (
	"context"
	"unicode/utf8"

	"github.com/blockhost/blockhost/pkg/blockext"
)

// TextID is the id of the text extension.
const TextID = "text"

// Text provides string reporters.
type Text struct {
	blockext.MethodTable
}

// NewText creates the text extension.
func NewText() *Text {
	t := &Text{}
	t.Set("join", blockext.BlockMethod(func(_ context.Context, args blockext.Args, _ blockext.Util) (any, error) {
		return argString(args, "A") + argString(args, "B"), nil
	}))
	t.Set("length", blockext.BlockMethod(func(_ context.Context, args blockext.Args, _ blockext.Util) (any, error) {
		return utf8.RuneCountInString(argString(args, "TEXT")), nil
	}))
	t.Set("letterOf", blockext.BlockMethod(func(_ context.Context, args blockext.Args, _ blockext.Util) (any, error) {
		runes := []rune(argString(args, "TEXT"))
		i := int(argNumber(args, "LETTER"))
		if i < 1 || i > len(runes) {
			return "", nil
		}
		return string(runes[i-1]), nil
	}))
	return t
}

// Info implements blockext.Extension.
func (t *Text) Info() blockext.Info {
	return blockext.Info{
		ID:     TextID,
		Name:   "Text",
		Color1: "#59C059",
		Blocks: []blockext.Block{
			{
				Opcode:    "join",
				BlockType: blockext.BlockReporter,
				Text:      "join [A] [B]",
				Arguments: map[string]blockext.Argument{
					"A": {Type: blockext.ArgumentString, Default: "apple "},
					"B": {Type: blockext.ArgumentString, Default: "banana"},
				},
			},
			{
				Opcode:    "length",
				BlockType: blockext.BlockReporter,
				Text:      "length of [TEXT]",
				Arguments: map[string]blockext.Argument{
					"TEXT": {Type: blockext.ArgumentString, Default: "apple"},
				},
			},
			{
				Opcode:    "letterOf",
				BlockType: blockext.BlockReporter,
				Text:      "letter [LETTER] of [TEXT]",
				Arguments: map[string]blockext.Argument{
					"LETTER": {Type: blockext.ArgumentNumber, Default: 1},
					"TEXT":   {Type: blockext.ArgumentString, Default: "apple"},
				},
			},
		},
	}
}
