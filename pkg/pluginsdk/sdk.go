// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package pluginsdk provides the SDK for building patchbay binary plugins.
//
// Binary plugins run as subprocesses and talk to the host over net/rpc
// using the HashiCorp go-plugin framework. A plugin implements
// audio.Processor (and optionally audio.Parameterized and audio.Resetter)
// and hands it to Serve.
//
// Example usage:
//
//	package main
//
//	import "github.com/patchbay/patchbay/pkg/pluginsdk"
//
//	func main() {
//		pluginsdk.Serve(&pluginsdk.ServeConfig{
//			Processor: NewTremolo(),
//		})
//	}
package pluginsdk

import (
	"os"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/patchbay/patchbay/pkg/audio"
)

// PluginName is the key the processor is dispensed under.
const PluginName = "processor"

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and plugins must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PATCHBAY_PLUGIN",
	MagicCookieValue: "patchbay-audio-v1",
}

// PluginMap is the set of plugins a binary serves and a host dispenses.
func PluginMap(impl audio.Processor) map[string]hashiplug.Plugin {
	return map[string]hashiplug.Plugin{
		PluginName: &ProcessorPlugin{Impl: impl},
	}
}

// ServeConfig configures the plugin server.
type ServeConfig struct {
	// Processor is served to the host. Required.
	Processor audio.Processor

	// Logger receives go-plugin diagnostics. The host reads JSON lines from
	// stderr and forwards them to its own log. Defaults to a JSON logger at
	// info level.
	Logger hclog.Logger
}

// Serve hands the processor to the host and blocks until the host
// disconnects. It panics on a missing processor, since a binary without
// one cannot do anything useful.
func Serve(config *ServeConfig) {
	if config == nil || config.Processor == nil {
		panic("pluginsdk: Serve needs a Processor")
	}
	logger := config.Logger
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:       "plugin",
			Level:      hclog.Info,
			Output:     os.Stderr,
			JSONFormat: true,
		})
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         PluginMap(config.Processor),
		Logger:          logger,
	})
}
