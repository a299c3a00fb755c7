// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package config loads Patchbay's configuration from a YAML file overlaid by
// command-line flags.
package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/patchbay/patchbay/internal/engine"
	"github.com/patchbay/patchbay/internal/logging"
	"github.com/patchbay/patchbay/internal/xdg"
)

// CodeInvalid marks configuration that fails validation or cannot be read.
const CodeInvalid = "CONFIG_INVALID"

// Config is the complete configuration.
type Config struct {
	Audio   engine.GraphConfig `koanf:"audio"`
	Plugins Plugins            `koanf:"plugins"`
	Log     Log                `koanf:"log"`
	Metrics Metrics            `koanf:"metrics"`
}

// Plugins configures discovery and the startup chain.
type Plugins struct {
	Paths     []string `koanf:"paths"`
	Recursive bool     `koanf:"recursive"`
	Cache     string   `koanf:"cache"`
	Blacklist []string `koanf:"blacklist"`
	// Chain lists plugins, by identity or name, loaded in order at startup.
	Chain []string `koanf:"chain"`
}

// Log configures logging.
type Log struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Metrics configures the observability server. An empty Addr disables it.
type Metrics struct {
	Addr string `koanf:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Audio: engine.DefaultConfig(),
		Plugins: Plugins{
			Paths:     []string{xdg.PluginsDir()},
			Recursive: true,
			Cache:     xdg.CatalogCache(),
		},
		Log:     Log{Format: "text", Level: "info"},
		Metrics: Metrics{Addr: "127.0.0.1:9110"},
	}
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"sample-rate":   "audio.sample-rate",
	"block-size":    "audio.block-size",
	"inputs":        "audio.inputs",
	"outputs":       "audio.outputs",
	"midi":          "audio.midi",
	"plugin-path":   "plugins.paths",
	"recursive":     "plugins.recursive",
	"catalog-cache": "plugins.cache",
	"chain":         "plugins.chain",
	"log-format":    "log.format",
	"log-level":     "log.level",
	"metrics-addr":  "metrics.addr",
}

// BindFlags registers every overridable setting on fs with the built-in
// defaults.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.Float64("sample-rate", d.Audio.SampleRate, "sample rate in Hz")
	fs.Int("block-size", d.Audio.BlockSize, "maximum block size in samples")
	fs.Int("inputs", d.Audio.NumInputChannels, "audio input channels")
	fs.Int("outputs", d.Audio.NumOutputChannels, "audio output channels")
	fs.Bool("midi", d.Audio.EnableMIDI, "route MIDI through the graph")
	fs.StringSlice("plugin-path", d.Plugins.Paths, "plugin search paths")
	fs.Bool("recursive", d.Plugins.Recursive, "scan plugin paths recursively")
	fs.String("catalog-cache", d.Plugins.Cache, "catalog cache file")
	fs.StringSlice("chain", nil, "plugins to load at startup, by identity or name")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
}

// Load reads path (the default config file when empty) and overlays flags
// the user set explicitly. A missing default file is not an error; a
// missing explicit file is. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")
	errb := oops.In("config").Code(CodeInvalid)

	explicit := path != ""
	if !explicit {
		path = xdg.ConfigFile()
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, errb.With("path", path).Hint("config file is not valid YAML").Wrap(err)
		}
	} else if explicit || !errors.Is(err, fs.ErrNotExist) {
		return Config{}, errb.With("path", path).Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, errb.Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errb.Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return oops.In("config").Code(CodeInvalid).Wrap(err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.In("config").
			Code(CodeInvalid).
			With("format", c.Log.Format).
			Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.In("config").Code(CodeInvalid).Wrap(err)
	}
	return nil
}
