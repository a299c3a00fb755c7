// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/patchbay/patchbay/internal/catalog"
)

// NewScanCmd creates the scan subcommand.
func NewScanCmd() *cobra.Command {
	var rescan bool

	cmd := &cobra.Command{
		Use:   "scan [path...]",
		Short: "Scan for plugins and update the catalog cache",
		Long: `Scan the given paths (default: the configured plugin paths) for plugin
bundles, probe every candidate and save the catalog cache. Interrupting
the scan stops it after the current file; plugins found so far are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args, rescan)
		},
	}
	cmd.Flags().BoolVar(&rescan, "rescan", false, "probe plugins already in the catalog again")
	return cmd
}

func runScan(cmd *cobra.Command, args []string, rescan bool) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openSession(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(context.Background()) }()

	paths := args
	if len(paths) == 0 {
		paths = cfg.Plugins.Paths
	}

	cat := s.Catalog()
	events := cat.Subscribe(256)
	defer cat.Unsubscribe(events)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	before := cat.Len()
	if err := cat.ScanAsync(paths, cfg.Plugins.Recursive, rescan); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		cat.Wait()
		close(done)
	}()

	cancelled := false
	for finished := false; !finished; {
		select {
		case <-ctx.Done():
			cat.StopScanning()
			cancelled = true
			ctx = context.Background()
		case ev := <-events:
			printScanEvent(cmd, ev)
		case <-done:
			finished = true
		}
	}
	for drained := false; !drained; {
		select {
		case ev := <-events:
			printScanEvent(cmd, ev)
		default:
			drained = true
		}
	}

	if cancelled {
		cmd.Println("scan cancelled")
	}
	cmd.Printf("%d new plugins, %d known\n", max(cat.Len()-before, 0), cat.Len())
	return saveCatalog(s, cfg.Plugins.Cache)
}

func printScanEvent(cmd *cobra.Command, ev catalog.Event) {
	switch ev.Kind {
	case catalog.ScanStarted:
		cmd.Printf("scanning %d candidate files\n", ev.Files)
	case catalog.PluginFound:
		cmd.Printf("  found %s\n", ev.Plugin)
	case catalog.ProbeFailed:
		cmd.PrintErrf("  failed %s: %v\n", ev.File, ev.Err)
	}
}
