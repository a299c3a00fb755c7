// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/patchbay/patchbay/internal/plugin"
)

// NewPluginsCmd creates the plugins subcommand.
func NewPluginsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plugins [query...]",
		Short: "List or search known plugins",
		Long: `List the plugins in the catalog cache plus the builtin processors.

A query narrows the list. Bare words match name, manufacturer or category;
field terms match one attribute, and a leading '-' negates a term:

  patchbay plugins delay
  patchbay plugins category:instrument -format:lua
  patchbay plugins 'manufacturer:"Acme Audio"'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlugins(cmd, strings.Join(args, " "), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print descriptors as JSON")
	return cmd
}

func runPlugins(cmd *cobra.Command, query string, asJSON bool) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openSession(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(context.Background()) }()

	var descs []plugin.Descriptor
	if query == "" {
		descs = s.Catalog().Plugins()
	} else if descs, err = s.Catalog().Search(query); err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(descs)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFORMAT\tCATEGORY\tMANUFACTURER\tVERSION\tIO")
	for _, d := range descs {
		io := fmt.Sprintf("%d/%d", d.NumInputs, d.NumOutputs)
		if d.AcceptsMIDI {
			io += " midi"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Name, d.Format, d.Category, d.Manufacturer, d.Version, io)
	}
	return tw.Flush()
}
