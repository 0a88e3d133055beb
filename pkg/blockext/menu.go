// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package blockext

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Message is a localizable piece of text.
type Message struct {
	ID          string `yaml:"id" json:"id"`
	Default     string `yaml:"default,omitempty" json:"default,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// MenuItem is one [text, value] entry of a menu.
type MenuItem struct {
	Text    string   `yaml:"text" json:"text"`
	Message *Message `yaml:"message,omitempty" json:"message,omitempty"`
	Value   any      `yaml:"value" json:"value"`
}

// Item returns a menu item whose text and value are both s.
func Item(s string) MenuItem {
	return MenuItem{Text: s, Value: s}
}

// Menu is either a literal list of items or the name of a generator method
// on the extension. The short forms (a bare list, or a bare method name)
// decode into the same structure.
type Menu struct {
	AcceptReporters bool       `yaml:"acceptReporters,omitempty" json:"acceptReporters,omitempty"`
	Items           []MenuItem `yaml:"items,omitempty" json:"items,omitempty"`
	ItemsFunc       string     `yaml:"itemsFunc,omitempty" json:"itemsFunc,omitempty"`

	// Resolve is bound by the host for generator-backed menus.
	Resolve MenuFunc `yaml:"-" json:"-"`
}

// IsDynamic reports whether the menu items come from a generator method.
func (m Menu) IsDynamic() bool {
	return m.ItemsFunc != ""
}

func (m Menu) clone() Menu {
	out := m
	if m.Items != nil {
		out.Items = append([]MenuItem(nil), m.Items...)
	}
	return out
}

// MenuFromValue builds a Menu from a generic decoded value: a list of items,
// a generator name, or a {items, acceptReporters} mapping.
func MenuFromValue(v any) (Menu, error) {
	switch val := v.(type) {
	case string:
		return Menu{ItemsFunc: val}, nil
	case []any:
		items, err := ItemsFromValue(val)
		if err != nil {
			return Menu{}, err
		}
		return Menu{Items: items}, nil
	case map[string]any:
		var m Menu
		if ar, ok := val["acceptReporters"].(bool); ok {
			m.AcceptReporters = ar
		}
		if fn, ok := val["itemsFunc"].(string); ok && fn != "" {
			m.ItemsFunc = fn
			return m, nil
		}
		raw, ok := val["items"]
		if !ok {
			return m, nil
		}
		inner, err := MenuFromValue(raw)
		if err != nil {
			return Menu{}, err
		}
		m.Items, m.ItemsFunc = inner.Items, inner.ItemsFunc
		return m, nil
	default:
		return Menu{}, fmt.Errorf("unsupported menu value %T", v)
	}
}

// ItemsFromValue converts a generic list into menu items. Bare values
// become [v, v]; mappings provide text (string or message) and value.
func ItemsFromValue(v any) ([]MenuItem, error) {
	switch typed := v.(type) {
	case []MenuItem:
		return typed, nil
	case []string:
		items := make([]MenuItem, len(typed))
		for i, s := range typed {
			items[i] = Item(s)
		}
		return items, nil
	}
	list, ok := v.([]any)
	if !ok {
		if v == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("menu items must be a list, got %T", v)
	}
	items := make([]MenuItem, 0, len(list))
	for i, raw := range list {
		item, err := itemFromValue(raw)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func itemFromValue(raw any) (MenuItem, error) {
	switch val := raw.(type) {
	case string:
		return Item(val), nil
	case MenuItem:
		return val, nil
	case []any:
		if len(val) != 2 {
			return MenuItem{}, fmt.Errorf("pair must have 2 elements, got %d", len(val))
		}
		return MenuItem{Text: fmt.Sprint(val[0]), Value: val[1]}, nil
	case map[string]any:
		item := MenuItem{Value: val["value"]}
		switch text := val["text"].(type) {
		case string:
			item.Text = text
		case map[string]any:
			item.Message = messageFromValue(text)
			item.Text = item.Message.Default
		case nil:
			item.Text = fmt.Sprint(item.Value)
		default:
			return MenuItem{}, fmt.Errorf("unsupported text %T", text)
		}
		if msg, ok := val["message"].(map[string]any); ok {
			item.Message = messageFromValue(msg)
		}
		return item, nil
	case nil:
		return MenuItem{}, fmt.Errorf("nil item")
	default:
		s := fmt.Sprint(val)
		return MenuItem{Text: s, Value: val}, nil
	}
}

func messageFromValue(v map[string]any) *Message {
	msg := &Message{}
	msg.ID, _ = v["id"].(string)
	msg.Default, _ = v["default"].(string)
	msg.Description, _ = v["description"].(string)
	return msg
}

// UnmarshalYAML accepts the short and long menu forms.
func (m *Menu) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err //nolint:wrapcheck // decoder errors carry line info
	}
	menu, err := MenuFromValue(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*m = menu
	return nil
}

// UnmarshalJSON accepts the short and long menu forms.
func (m *Menu) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err //nolint:wrapcheck // passthrough of decoder error
	}
	menu, err := MenuFromValue(raw)
	if err != nil {
		return err
	}
	*m = menu
	return nil
}
