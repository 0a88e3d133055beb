// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package runtime

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/blockhost/blockhost/pkg/blockext"
)

// Project is a saved program: the extensions it needs, its targets and
// monitors.
type Project struct {
	Extensions []string     `yaml:"extensions,omitempty"`
	Targets    []TargetSpec `yaml:"targets"`
	Monitors   []Monitor    `yaml:"monitors,omitempty"`
	Menus      []MenuSpec   `yaml:"menus,omitempty"`
}

// TargetSpec describes one target of a project.
type TargetSpec struct {
	ID     string  `yaml:"id"`
	Name   string  `yaml:"name,omitempty"`
	Stage  bool    `yaml:"stage,omitempty"`
	Blocks []Block `yaml:"blocks,omitempty"`
}

// MenuSpec adds extra items to a menu generator.
type MenuSpec struct {
	Generator string   `yaml:"generator"`
	Items     []string `yaml:"items"`
}

// ParseProject decodes a YAML project.
func ParseProject(data []byte) (*Project, error) {
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid project YAML: %w", err)
	}
	for i, t := range p.Targets {
		if t.ID == "" {
			return nil, fmt.Errorf("target %d has no id", i)
		}
		for j, b := range t.Blocks {
			if b.ID == "" || b.Opcode == "" {
				return nil, fmt.Errorf("target %s block %d needs id and opcode", t.ID, j)
			}
		}
	}
	return &p, nil
}

// Apply adds the project's targets, blocks, monitors and menu items.
func (r *Runtime) Apply(p *Project) error {
	for _, t := range p.Targets {
		name := t.Name
		if name == "" {
			name = t.ID
		}
		r.AddTarget(t.ID, name, t.Stage)
		for _, b := range t.Blocks {
			if err := r.AddBlock(t.ID, b); err != nil {
				return err
			}
		}
	}
	for _, m := range p.Monitors {
		r.AddMonitor(m.ID, m.Opcode)
	}
	for _, m := range p.Menus {
		for _, item := range m.Items {
			r.AddDynamicMenuItems(m.Generator, blockext.Item(item))
		}
	}
	return nil
}
