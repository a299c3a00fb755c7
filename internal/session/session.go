// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package session composes the engine, plugin manager, plugin catalog and an
// audio device into one running instance.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/patchbay/patchbay/internal/catalog"
	"github.com/patchbay/patchbay/internal/device"
	"github.com/patchbay/patchbay/internal/engine"
	"github.com/patchbay/patchbay/internal/graph"
	"github.com/patchbay/patchbay/internal/manager"
	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/internal/plugin/builtin"
	"github.com/patchbay/patchbay/internal/plugin/goplugin"
	"github.com/patchbay/patchbay/internal/plugin/lua"
)

// CodeUnknownPlugin marks a chain entry the catalog cannot resolve.
const CodeUnknownPlugin = "SESSION_UNKNOWN_PLUGIN"

// ErrClosed is returned when starting a closed session.
var ErrClosed = errors.New("session is closed")

// Facade is the surface the CLI and bindings drive.
type Facade interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Processor() *engine.Processor
	Manager() *manager.Manager
	Catalog() *catalog.Catalog
	SetTransport(t engine.Transport) error
	ClearTransport()
	Close(ctx context.Context) error
}

// Config describes a session.
type Config struct {
	Engine engine.GraphConfig
	// DeadMansPedal is the catalog's crash marker file. Empty disables it.
	DeadMansPedal string
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDevice replaces the default null device.
func WithDevice(d device.Device) Option {
	return func(s *Session) { s.device = d }
}

// WithFormats replaces the default plugin formats (builtin, lua, binary).
func WithFormats(formats ...plugin.Format) Option {
	return func(s *Session) { s.formats = formats }
}

// Session owns every component of a running engine.
type Session struct {
	logger  *slog.Logger
	device  device.Device
	formats []plugin.Format

	host    *plugin.InstanceHost
	engine  *engine.Processor
	manager *manager.Manager
	catalog *catalog.Catalog

	mu      sync.Mutex
	running bool
	closed  bool
}

var _ Facade = (*Session)(nil)

// New builds a session. The engine is prepared when the device starts.
func New(cfg Config, opts ...Option) (*Session, error) {
	s := &Session{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if s.formats == nil {
		s.formats = []plugin.Format{
			builtin.Format{},
			lua.NewFormat(lua.WithLogger(s.logger)),
			goplugin.NewFormat(goplugin.WithLogger(s.logger)),
		}
	}
	s.host = plugin.NewInstanceHost(
		plugin.WithLogger(s.logger),
		plugin.WithFormats(s.formats...),
	)

	eng, err := engine.New(cfg.Engine,
		engine.WithLogger(s.logger),
		engine.WithInstantiator(s.host.CreateInstance),
	)
	if err != nil {
		_ = s.host.Close(context.Background())
		return nil, err
	}
	s.engine = eng

	if s.device == nil {
		s.device, err = device.NewNull(device.Config{
			SampleRate: cfg.Engine.SampleRate,
			BlockSize:  cfg.Engine.BlockSize,
			Inputs:     cfg.Engine.NumInputChannels,
			Outputs:    cfg.Engine.NumOutputChannels,
		}, device.WithLogger(s.logger))
		if err != nil {
			_ = s.host.Close(context.Background())
			return nil, err
		}
	}

	s.manager = manager.New(eng, s.host, manager.WithLogger(s.logger))

	catOpts := []catalog.Option{catalog.WithLogger(s.logger)}
	if cfg.DeadMansPedal != "" {
		catOpts = append(catOpts, catalog.WithDeadMansPedal(cfg.DeadMansPedal))
	}
	s.catalog = catalog.New(s.host, catOpts...)
	s.catalog.RegisterBuiltins(builtin.Format{}.Descriptors())
	return s, nil
}

// Start prepares the engine through the device and begins rendering.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.running {
		return device.ErrRunning
	}
	if err := s.device.Start(ctx, s.engine); err != nil {
		return oops.In("session").Wrap(err)
	}
	s.running = true
	s.logger.Info("session started")
	return nil
}

// Stop halts the device, which releases the engine.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.device.Stop()
	s.running = false
	s.logger.Info("session stopped")
}

// Running reports whether the device is rendering.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Processor returns the engine.
func (s *Session) Processor() *engine.Processor { return s.engine }

// Manager returns the plugin manager.
func (s *Session) Manager() *manager.Manager { return s.manager }

// Catalog returns the plugin catalog.
func (s *Session) Catalog() *catalog.Catalog { return s.catalog }

// Host returns the plugin instance host.
func (s *Session) Host() *plugin.InstanceHost { return s.host }

// SetTransport mixes t into the engine input.
func (s *Session) SetTransport(t engine.Transport) error {
	return s.engine.SetExternalSource(t)
}

// ClearTransport detaches the transport.
func (s *Session) ClearTransport() {
	s.engine.ClearExternalSource()
}

// LoadChain resolves each reference (an identity or a plugin name) in the
// catalog and loads the plugins in order. Loading stops at the first
// failure; plugins already loaded stay in the graph.
func (s *Session) LoadChain(ctx context.Context, refs []string) ([]graph.NodeID, error) {
	ids := make([]graph.NodeID, 0, len(refs))
	for _, ref := range refs {
		desc, ok := s.catalog.Find(ref)
		if !ok {
			desc, ok = s.catalog.FindByName(ref)
		}
		if !ok {
			return ids, oops.In("session").
				Code(CodeUnknownPlugin).
				With("plugin", ref).
				Hint("scan plugin paths or check the name with `patchbay plugins`").
				Errorf("plugin %q is not in the catalog", ref)
		}
		id, err := s.manager.LoadPlugin(ctx, desc, "")
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Close stops rendering, cancels any scan, removes every plugin and shuts
// down plugin backends.
func (s *Session) Close(ctx context.Context) error {
	s.Stop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.catalog.StopScanning()
	s.catalog.Close()
	s.manager.Close()

	var errs []error
	if err := s.manager.RemoveAll(); err != nil {
		errs = append(errs, err)
	}
	s.engine.Release()
	if err := s.host.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	s.engine.Notifier().Close()
	s.logger.Info("session closed")
	return errors.Join(errs...)
}
