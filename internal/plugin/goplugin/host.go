// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package goplugin provides the binary plugin format: processors running in
// a subprocess and driven over net/rpc using HashiCorp's go-plugin.
package goplugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/pkg/audio"
	"github.com/patchbay/patchbay/pkg/pluginsdk"
)

// FormatName is the Descriptor.Format of binary plugins.
const FormatName = string(plugin.TypeBinary)

// Sentinel errors for programmatic error checking.
var (
	// ErrHostClosed is returned when instantiating through a closed format.
	ErrHostClosed = errors.New("host is closed")
	// ErrNotProcessor is returned when a plugin dispenses something other
	// than a processor client.
	ErrNotProcessor = errors.New("plugin does not serve a processor")
)

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the RPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients. Plugin stderr and
// go-plugin's own diagnostics go to Logger at debug level.
type DefaultClientFactory struct {
	Logger *slog.Logger
}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  pluginsdk.HandshakeConfig,
		Plugins:          pluginsdk.PluginMap(nil),
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath resolved from a validated plugin manifest
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolNetRPC},
		Managed:          false,
		Logger:           f.hclogger(filepath.Base(execPath)),
	})
}

func (f *DefaultClientFactory) hclogger(name string) hclog.Logger {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return hclog.FromStandardLogger(
		slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
		&hclog.LoggerOptions{Name: name, Level: hclog.Debug},
	)
}

// Format instantiates binary plugins. Every instance runs in its own
// subprocess; Close kills the ones still alive.
type Format struct {
	clientFactory ClientFactory
	logger        *slog.Logger

	mu      sync.Mutex
	clients map[*Processor]PluginClient
	closed  bool
}

// Compile-time interface checks.
var (
	_ plugin.Format = (*Format)(nil)
	_ plugin.Closer = (*Format)(nil)
)

// Option configures a Format.
type Option func(*Format)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(f *Format) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithClientFactory replaces the go-plugin client factory (for testing).
// Panics if factory is nil.
func WithClientFactory(factory ClientFactory) Option {
	if factory == nil {
		panic("goplugin: factory cannot be nil")
	}
	return func(f *Format) { f.clientFactory = factory }
}

// NewFormat creates the binary format backend.
func NewFormat(opts ...Option) *Format {
	f := &Format{
		clientFactory: &DefaultClientFactory{},
		logger:        slog.Default(),
		clients:       make(map[*Processor]PluginClient),
	}
	for _, opt := range opts {
		opt(f)
	}
	if def, ok := f.clientFactory.(*DefaultClientFactory); ok && def.Logger == nil {
		def.Logger = f.logger
	}
	return f
}

// Name implements plugin.Format.
func (f *Format) Name() string { return FormatName }

// Matches implements plugin.Format.
func (f *Format) Matches(path string) bool {
	return filepath.Base(path) == plugin.ManifestFile
}

// Probe implements plugin.Format. It reads the manifest and fingerprints
// the executable without starting it.
func (f *Format) Probe(_ context.Context, path string) ([]plugin.Descriptor, error) {
	m, err := plugin.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	if m.Type != plugin.TypeBinary {
		return nil, nil
	}

	execPath := m.EntryPath(filepath.Dir(path))
	data, err := os.ReadFile(filepath.Clean(execPath))
	if err != nil {
		return nil, oops.In("goplugin").
			With("plugin", m.Name).
			With("path", execPath).
			Hint("plugin executable not readable").
			Wrap(err)
	}
	return []plugin.Descriptor{m.Descriptor(path, plugin.Fingerprint(data))}, nil
}

// Instantiate starts the plugin executable and connects to its processor.
func (f *Format) Instantiate(ctx context.Context, desc plugin.Descriptor, _ float64, _ int) (audio.Processor, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, ErrHostClosed
	}

	m, err := plugin.LoadManifest(desc.Path)
	if err != nil {
		return nil, err
	}
	if m.BinaryPlugin == nil {
		return nil, oops.In("goplugin").
			Code(plugin.CodeInstantiate).
			With("plugin", desc.Name).
			Errorf("plugin %s is not a binary plugin", desc.Name)
	}

	execPath := m.EntryPath(filepath.Dir(desc.Path))
	if _, err := os.Stat(execPath); err != nil {
		return nil, oops.In("goplugin").
			Code(plugin.CodeInstantiate).
			With("plugin", desc.Name).
			With("path", execPath).
			Hint("plugin executable not found").
			Wrap(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := f.clientFactory.NewClient(execPath)
	remote, err := dispense(client)
	if err != nil {
		client.Kill()
		return nil, oops.In("goplugin").
			Code(plugin.CodeInstantiate).
			With("plugin", desc.Name).
			Wrap(err)
	}

	info, err := remote.Info()
	if err != nil {
		client.Kill()
		return nil, oops.In("goplugin").
			Code(plugin.CodeInstantiate).
			With("plugin", desc.Name).
			Hint("failed to query processor info").
			Wrap(err)
	}
	if info.NumInputs != desc.NumInputs || info.NumOutputs != desc.NumOutputs {
		f.logger.Warn("binary plugin channel layout differs from its manifest",
			"plugin", desc.Name,
			"manifest_inputs", desc.NumInputs,
			"manifest_outputs", desc.NumOutputs,
			"inputs", info.NumInputs,
			"outputs", info.NumOutputs)
	}

	p := newProcessor(remote, info, f.release)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		client.Kill()
		return nil, ErrHostClosed
	}
	f.clients[p] = client
	return p, nil
}

func dispense(client PluginClient) (remoteProcessor, error) {
	proto, err := client.Client()
	if err != nil {
		return nil, oops.Hint("failed to connect to plugin").Wrap(err)
	}
	raw, err := proto.Dispense(pluginsdk.PluginName)
	if err != nil {
		return nil, oops.Hint("failed to dispense plugin").Wrap(err)
	}
	remote, ok := raw.(remoteProcessor)
	if !ok {
		return nil, ErrNotProcessor
	}
	return remote, nil
}

// release kills the subprocess behind p.
func (f *Format) release(p *Processor) {
	f.mu.Lock()
	client, ok := f.clients[p]
	delete(f.clients, p)
	f.mu.Unlock()

	if ok {
		client.Kill()
	}
}

// Running returns the number of live plugin subprocesses.
func (f *Format) Running() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Close kills every plugin subprocess. Further instantiation fails.
func (f *Format) Close(_ context.Context) error {
	f.mu.Lock()
	clients := f.clients
	f.clients = make(map[*Processor]PluginClient)
	f.closed = true
	f.mu.Unlock()

	for p, client := range clients {
		p.markDead()
		client.Kill()
	}
	return nil
}
