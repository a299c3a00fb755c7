// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/patchbay/patchbay/internal/config"
	"github.com/patchbay/patchbay/internal/logging"
	"github.com/patchbay/patchbay/internal/session"
	"github.com/patchbay/patchbay/internal/xdg"
	"github.com/patchbay/patchbay/pkg/errutil"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patchbay",
		Short: "Patchbay - a real-time audio and MIDI plugin graph",
		Long: `Patchbay hosts audio and MIDI plugins in a processing graph rendered
once per audio period, with plugin discovery, asynchronous loading,
parameter control and presets.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default: XDG_CONFIG_HOME/patchbay/config.yaml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewScanCmd())
	cmd.AddCommand(NewPluginsCmd())
	cmd.AddCommand(NewVersionCmd())
	return cmd
}

// loadConfig resolves the configuration for cmd and installs the logger.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.SetDefault(logging.Options{
		Service: "patchbay",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// openSession builds a session with the configured blacklist and the
// catalog cache loaded.
func openSession(cfg config.Config, logger *slog.Logger) (*session.Session, error) {
	if err := xdg.EnsureDir(xdg.StateDir()); err != nil {
		return nil, err
	}
	s, err := session.New(session.Config{
		Engine:        cfg.Audio,
		DeadMansPedal: xdg.DeadMansPedal(),
	}, session.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	cat := s.Catalog()
	for _, pattern := range cfg.Plugins.Blacklist {
		if err := cat.AddToBlacklist(pattern); err != nil {
			_ = s.Close(context.Background())
			return nil, err
		}
	}
	if cfg.Plugins.Cache != "" {
		if err := cat.Load(cfg.Plugins.Cache); err != nil {
			errutil.LogError(logger, "ignoring unreadable catalog cache", err, "path", cfg.Plugins.Cache)
		}
	}
	return s, nil
}

// saveCatalog writes the catalog cache, creating its directory.
func saveCatalog(s *session.Session, path string) error {
	if path == "" {
		return nil
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return s.Catalog().Save(path)
}
