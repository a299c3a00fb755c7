// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package manager is the control-plane facade over the engine and the
// plugin instance host. It owns plugin lifecycle, parameter access and
// in-memory presets.
package manager

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/patchbay/patchbay/internal/broadcast"
	"github.com/patchbay/patchbay/internal/engine"
	"github.com/patchbay/patchbay/internal/graph"
	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/pkg/audio"
	"github.com/patchbay/patchbay/pkg/errutil"
)

var tracer = otel.Tracer("patchbay/manager")

// Error codes for manager failures.
const (
	CodeUnknownInstance = "MANAGER_UNKNOWN_INSTANCE"
	CodeUnknownPreset   = "MANAGER_UNKNOWN_PRESET"
	CodePresetMismatch  = "MANAGER_PRESET_MISMATCH"
	CodePresetInvalid   = "MANAGER_PRESET_INVALID"
	CodeLoadFailed      = "MANAGER_LOAD_FAILED"
)

// Instantiator creates processors from descriptors. *plugin.InstanceHost
// satisfies it.
type Instantiator interface {
	CreateInstance(ctx context.Context, desc plugin.Descriptor, sampleRate float64, blockSize int) (audio.Processor, error)
	CreateInstanceAsync(ctx context.Context, desc plugin.Descriptor, sampleRate float64, blockSize int, cb func(audio.Processor, error))
}

// LoadCallback receives the outcome of LoadPluginAsync. On failure id is
// graph.InvalidNodeID and errMsg describes the problem.
type LoadCallback func(id graph.NodeID, errMsg string)

// InstanceInfo mirrors a loaded plugin node.
type InstanceInfo struct {
	NodeID         graph.NodeID      `json:"node_id"`
	DisplayName    string            `json:"display_name"`
	Descriptor     plugin.Descriptor `json:"descriptor"`
	Enabled        bool              `json:"enabled"`
	Bypassed       bool              `json:"bypassed"`
	LatencySamples int               `json:"latency_samples"`
	LoadedAt       time.Time         `json:"loaded_at"`
	LoadDuration   time.Duration     `json:"load_duration"`
	RequestID      string            `json:"request_id"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager loads plugins into an engine and tracks them.
type Manager struct {
	engine *engine.Processor
	host   Instantiator
	logger *slog.Logger
	events *broadcast.Broadcaster[Event]

	pending sync.WaitGroup

	// lifecycle pairs every node added or removed with its instance record.
	lifecycle sync.Mutex

	mu        sync.RWMutex
	instances map[graph.NodeID]*InstanceInfo
	presets   map[graph.NodeID]map[string]Preset
}

// New creates a manager over eng that instantiates plugins through host.
func New(eng *engine.Processor, host Instantiator, opts ...Option) *Manager {
	m := &Manager{
		engine:    eng,
		host:      host,
		logger:    slog.Default(),
		instances: make(map[graph.NodeID]*InstanceInfo),
		presets:   make(map[graph.NodeID]map[string]Preset),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events = broadcast.New(func(ev Event) {
		m.logger.Debug("dropping manager event for slow subscriber", "kind", ev.Kind.String())
	})
	return m
}

// Engine returns the engine the manager drives.
func (m *Manager) Engine() *engine.Processor { return m.engine }

// Subscribe returns a channel of manager events.
func (m *Manager) Subscribe(size int) <-chan Event { return m.events.Subscribe(size) }

// Unsubscribe closes and detaches a channel returned by Subscribe.
func (m *Manager) Unsubscribe(ch <-chan Event) { m.events.Unsubscribe(ch) }

// Wait blocks until every LoadPluginAsync callback has run.
func (m *Manager) Wait() { m.pending.Wait() }

// Close waits for outstanding loads and closes every subscription.
func (m *Manager) Close() {
	m.pending.Wait()
	m.events.Close()
}

type loadRequest struct {
	id    string
	desc  plugin.Descriptor
	name  string
	start time.Time
	span  trace.Span
}

func (m *Manager) beginLoad(ctx context.Context, desc plugin.Descriptor, name string) (context.Context, *loadRequest) {
	if name == "" {
		name = desc.Name
	}
	req := &loadRequest{id: ulid.Make().String(), desc: desc, name: name, start: time.Now()}
	ctx, req.span = tracer.Start(ctx, "manager.load_plugin", trace.WithAttributes(
		attribute.String("request_id", req.id),
		attribute.String("plugin.identity", desc.Identity()),
		attribute.String("plugin.name", desc.Name),
	))
	return ctx, req
}

// LoadPluginAsync instantiates desc off the calling goroutine and adds it
// to the engine. cb runs on an unspecified goroutine once the load settles.
func (m *Manager) LoadPluginAsync(ctx context.Context, desc plugin.Descriptor, displayName string, cb LoadCallback) {
	ctx, req := m.beginLoad(ctx, desc, displayName)
	cfg := m.engine.Config()

	m.pending.Add(1)
	m.host.CreateInstanceAsync(ctx, desc, cfg.SampleRate, cfg.BlockSize, func(proc audio.Processor, err error) {
		defer m.pending.Done()
		id, err := m.finishLoad(ctx, req, proc, err)
		if cb == nil {
			return
		}
		if err != nil {
			cb(graph.InvalidNodeID, err.Error())
			return
		}
		cb(id, "")
	})
}

// LoadPlugin instantiates desc and adds it to the engine.
func (m *Manager) LoadPlugin(ctx context.Context, desc plugin.Descriptor, displayName string) (graph.NodeID, error) {
	ctx, req := m.beginLoad(ctx, desc, displayName)
	cfg := m.engine.Config()
	proc, err := m.host.CreateInstance(ctx, desc, cfg.SampleRate, cfg.BlockSize)
	return m.finishLoad(ctx, req, proc, err)
}

func (m *Manager) finishLoad(ctx context.Context, req *loadRequest, proc audio.Processor, err error) (id graph.NodeID, _ error) {
	defer func() {
		if err != nil {
			req.span.RecordError(err)
			req.span.SetStatus(codes.Error, err.Error())
		}
		req.span.End()
	}()

	var info *InstanceInfo
	if err == nil {
		info, err = m.addInstance(req, proc)
		if err != nil {
			plugin.Dispose(proc)
		}
	}
	if err != nil {
		err = oops.In("manager").
			Code(CodeLoadFailed).
			With("request_id", req.id).
			With("plugin", req.desc.Identity()).
			Wrap(err)
		errutil.LogErrorContext(ctx, m.logger, "plugin load failed", err)
		m.events.Publish(Event{Kind: PluginLoadFailed, Plugin: req.desc.Identity(), RequestID: req.id, Err: err.Error()})
		return graph.InvalidNodeID, err
	}
	id = info.NodeID

	req.span.SetAttributes(attribute.Int64("node_id", int64(id)))
	m.logger.InfoContext(ctx, "plugin loaded",
		"node_id", id,
		"plugin", req.desc.Identity(),
		"request_id", req.id,
		"duration", info.LoadDuration)
	m.events.Publish(Event{Kind: PluginLoaded, NodeID: id, Plugin: req.desc.Identity(), RequestID: req.id})
	return id, nil
}

// addInstance inserts proc into the engine and records it. A concurrent
// RemovePlugin of the new node waits until the record exists.
func (m *Manager) addInstance(req *loadRequest, proc audio.Processor) (*InstanceInfo, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	id, err := m.engine.AddPlugin(proc, req.name, engine.WithDescriptor(req.desc))
	if err != nil {
		return nil, err
	}
	info := &InstanceInfo{
		NodeID:         id,
		DisplayName:    req.name,
		Descriptor:     req.desc,
		Enabled:        true,
		LatencySamples: proc.LatencySamples(),
		LoadedAt:       time.Now(),
		LoadDuration:   time.Since(req.start),
		RequestID:      req.id,
	}
	m.mu.Lock()
	m.instances[id] = info
	m.mu.Unlock()
	return info, nil
}

// RemovePlugin removes the node from the engine and then forgets its
// instance record and presets.
func (m *Manager) RemovePlugin(id graph.NodeID) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	proc, _ := m.engine.NodeProcessor(id)
	if err := m.engine.RemoveNode(id); err != nil {
		return err
	}
	// The graph has released the processor; only out-of-process resources remain.
	if proc != nil {
		plugin.CloseProcessor(proc)
	}

	m.mu.Lock()
	info := m.instances[id]
	delete(m.instances, id)
	delete(m.presets, id)
	m.mu.Unlock()

	ev := Event{Kind: PluginRemoved, NodeID: id}
	if info != nil {
		ev.Plugin = info.Descriptor.Identity()
	}
	m.logger.Info("plugin removed", "node_id", id)
	m.events.Publish(ev)
	return nil
}

// RemoveAll removes every managed plugin.
func (m *Manager) RemoveAll() error {
	for _, info := range m.Instances() {
		if err := m.RemovePlugin(info.NodeID); err != nil {
			return err
		}
	}
	return nil
}

// RenamePlugin changes a plugin's display name.
func (m *Manager) RenamePlugin(id graph.NodeID, name string) error {
	if err := m.engine.RenameNode(id, name); err != nil {
		return err
	}
	m.update(id, func(info *InstanceInfo) { info.DisplayName = name })
	return nil
}

// SetPluginBypassed sets a plugin's bypass flag.
func (m *Manager) SetPluginBypassed(id graph.NodeID, bypassed bool) error {
	if err := m.engine.SetNodeBypassed(id, bypassed); err != nil {
		return err
	}
	m.update(id, func(info *InstanceInfo) {
		info.Bypassed = bypassed
		info.Enabled = !bypassed
	})
	return nil
}

// SetPluginEnabled is the inverse of SetPluginBypassed.
func (m *Manager) SetPluginEnabled(id graph.NodeID, enabled bool) error {
	return m.SetPluginBypassed(id, !enabled)
}

func (m *Manager) update(id graph.NodeID, fn func(*InstanceInfo)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.instances[id]; ok {
		fn(info)
	}
}

// Instances returns every managed plugin ordered by node id.
func (m *Manager) Instances() []InstanceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]InstanceInfo, 0, len(m.instances))
	for _, info := range m.instances {
		out = append(out, *info)
	}
	slices.SortFunc(out, func(a, b InstanceInfo) int { return cmp.Compare(a.NodeID, b.NodeID) })
	return out
}

// Instance returns the record for one plugin.
func (m *Manager) Instance(id graph.NodeID) (InstanceInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.instances[id]
	if !ok {
		return InstanceInfo{}, false
	}
	return *info, true
}

// SetState restores an engine state blob and rebuilds the instance records
// from the restored nodes. Presets are discarded since node ids change.
func (m *Manager) SetState(ctx context.Context, data []byte) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.engine.SetState(ctx, data); err != nil {
		return err
	}
	m.syncLocked()
	return nil
}

// Sync rebuilds the instance records from the engine's plugin nodes.
// Records of nodes that still exist keep their load metadata.
func (m *Manager) Sync() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.syncLocked()
}

func (m *Manager) syncLocked() {
	nodes := m.engine.AllNodes()

	m.mu.Lock()
	defer m.mu.Unlock()
	next := make(map[graph.NodeID]*InstanceInfo, len(nodes))
	for _, n := range nodes {
		if n.Descriptor == nil {
			continue
		}
		info, ok := m.instances[n.ID]
		if !ok || info.Descriptor.Identity() != n.Descriptor.Identity() {
			info = &InstanceInfo{NodeID: n.ID, Descriptor: *n.Descriptor, LoadedAt: time.Now()}
		}
		info.DisplayName = n.Name
		info.Bypassed = n.Bypassed
		info.Enabled = !n.Bypassed
		info.LatencySamples = n.LatencySamples
		next[n.ID] = info
	}
	for id := range m.presets {
		if _, ok := next[id]; !ok {
			delete(m.presets, id)
		}
	}
	m.instances = next
}

func errUnknownInstance(id graph.NodeID) error {
	return oops.In("manager").
		Code(CodeUnknownInstance).
		With("node_id", id).
		Errorf("no plugin instance with node id %d", id)
}

// processor resolves a managed plugin's live processor.
func (m *Manager) processor(id graph.NodeID) (audio.Processor, bool) {
	m.mu.RLock()
	_, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return m.engine.NodeProcessor(id)
}
