// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/blockhost/blockhost/internal/config"
	"github.com/blockhost/blockhost/pkg/blockext"
)

// loadFlags holds flags specific to the load command.
type loadFlags struct {
	project string
	replace bool
	exec    string
	target  string
	args    []string
}

// NewLoadCmd creates the load subcommand.
func NewLoadCmd() *cobra.Command {
	lf := &loadFlags{}

	cmd := &cobra.Command{
		Use:   "load <ref>...",
		Short: "Load extensions and print their palettes",
		Long: `Load one or more extensions into a fresh host and print the blocks each
one contributes. A ref is a builtin id, a library URL, an id the alias store
knows, a local library YAML file, or a local .lua script or plugin binary.

With --exec the named primitive ("<extension>_<opcode>") is run once with
the --arg values and its result printed:
  blockhost load ./pen.lua --exec pen_size --arg SIZE=4`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, refs []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runLoad(cmd.Context(), cmd, cfg, lf, refs, nil)
		},
	}

	cmd.Flags().StringVar(&lf.project, "project", "", "YAML project to instantiate first")
	cmd.Flags().BoolVar(&lf.replace, "replace", false, "hot-swap extensions already loaded")
	cmd.Flags().StringVar(&lf.exec, "exec", "", "primitive to run after loading")
	cmd.Flags().StringVar(&lf.target, "target", "", "target the primitive runs for (default: the editing target)")
	cmd.Flags().StringArrayVar(&lf.args, "arg", nil, "argument NAME=VALUE for --exec (repeatable)")

	return cmd
}

func runLoad(ctx context.Context, cmd *cobra.Command, cfg *config.Config, lf *loadFlags, refs []string, deps *HostDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	args, err := parseArgs(lf.args)
	if err != nil {
		return err
	}
	project, err := readProject(lf.project)
	if err != nil {
		return err
	}

	h, err := newHost(ctx, cfg, project, deps)
	if err != nil {
		return err
	}
	defer h.Close()

	var errs []error
	for _, ref := range refs {
		if _, err := h.load(ctx, ref, lf.replace); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.manager.AwaitAllLoaded(ctx); err != nil {
		errs = append(errs, err)
	}

	out := cmd.OutOrStdout()
	for _, id := range h.manager.LoadedIDs() {
		if info, ok := h.manager.Info(id); ok {
			printPalette(out, info)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if lf.exec == "" {
		return nil
	}
	target := lf.target
	if target == "" {
		target, _ = h.runtime.EditingTarget()
	}
	result, err := h.runtime.Execute(ctx, lf.exec, args, blockext.Util{TargetID: target})
	if err != nil {
		return oops.In("host").With("primitive", lf.exec).Wrap(err)
	}
	_, _ = fmt.Fprintf(out, "%s => %v\n", lf.exec, result)
	return nil
}

func printPalette(w io.Writer, info *blockext.Info) {
	_, _ = fmt.Fprintf(w, "%s (%s)\n", info.ID, info.Name)
	for _, b := range info.Blocks {
		switch {
		case b.Separator:
			_, _ = fmt.Fprintln(w, "  ---")
		case b.Opcode == "":
			_, _ = fmt.Fprintf(w, "  [%s] %s\n", b.BlockType, b.Text)
		default:
			_, _ = fmt.Fprintf(w, "  %-10s %s_%s  %q\n", b.BlockType, info.ID, b.Opcode, b.Text)
		}
	}
}

// parseArgs turns NAME=VALUE pairs into block arguments.
func parseArgs(pairs []string) (blockext.Args, error) {
	args := blockext.Args{Values: make(map[string]any, len(pairs))}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return blockext.Args{}, oops.Code("INVALID_ARGUMENT").With("arg", p).Errorf("argument %q must be NAME=VALUE", p)
		}
		args.Values[name] = value
	}
	return args, nil
}
