// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package manager_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/patchbay/patchbay/internal/engine"
	"github.com/patchbay/patchbay/internal/graph"
	"github.com/patchbay/patchbay/internal/manager"
	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/pkg/audio"
	"github.com/patchbay/patchbay/pkg/audio/audiotest"
	"github.com/patchbay/patchbay/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errNoSuchPlugin = errors.New("no such plugin")

// fakeHost instantiates audiotest processors keyed by descriptor name.
type fakeHost struct {
	mu      sync.Mutex
	created map[string][]*audiotest.Processor
	fail    map[string]bool
	wg      sync.WaitGroup
}

func newFakeHost() *fakeHost {
	return &fakeHost{created: make(map[string][]*audiotest.Processor), fail: make(map[string]bool)}
}

func (h *fakeHost) CreateInstance(_ context.Context, desc plugin.Descriptor, _ float64, _ int) (audio.Processor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail[desc.Name] {
		return nil, errNoSuchPlugin
	}
	p := audiotest.Stereo(desc.Name)
	if desc.Name == "prepare-fails" {
		p.FailPrepare = true
	}
	h.created[desc.Name] = append(h.created[desc.Name], p)
	return p, nil
}

func (h *fakeHost) CreateInstanceAsync(ctx context.Context, desc plugin.Descriptor, sr float64, bs int, cb func(audio.Processor, error)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		cb(h.CreateInstance(ctx, desc, sr, bs))
	}()
}

func (h *fakeHost) last(name string) *audiotest.Processor {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.created[name]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func desc(name string) plugin.Descriptor {
	return plugin.Descriptor{
		Name:         name,
		Format:       "fake",
		UID:          plugin.DeriveUID("fake", name, "Test"),
		Manufacturer: "Test",
		NumInputs:    2,
		NumOutputs:   2,
	}
}

func newManager(t *testing.T) (*manager.Manager, *fakeHost) {
	t.Helper()
	host := newFakeHost()
	eng, err := engine.New(engine.DefaultConfig(), engine.WithInstantiator(host.CreateInstance))
	require.NoError(t, err)
	require.NoError(t, eng.Prepare(48000, 256))
	m := manager.New(eng, host)
	t.Cleanup(func() {
		m.Close()
		host.wg.Wait()
		eng.Release()
		eng.Notifier().Close()
	})
	return m, host
}

func drain(ch <-chan manager.Event) []manager.Event {
	var out []manager.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestLoadPlugin(t *testing.T) {
	m, host := newManager(t)
	events := m.Subscribe(16)

	id, err := m.LoadPlugin(context.Background(), desc("Gain"), "Lead gain")
	require.NoError(t, err)
	require.NotEqual(t, graph.InvalidNodeID, id)

	proc := host.last("Gain")
	require.NotNil(t, proc)
	assert.Equal(t, int32(1), proc.Prepares.Load(), "loaded into a prepared engine")

	info, ok := m.Instance(id)
	require.True(t, ok)
	assert.Equal(t, "Lead gain", info.DisplayName)
	assert.Equal(t, desc("Gain").Identity(), info.Descriptor.Identity())
	assert.True(t, info.Enabled)
	assert.False(t, info.Bypassed)
	assert.NotEmpty(t, info.RequestID)
	assert.False(t, info.LoadedAt.IsZero())

	node, ok := m.Engine().NodeInfo(id)
	require.True(t, ok)
	assert.Equal(t, "Lead gain", node.Name)

	evs := drain(events)
	require.Len(t, evs, 1)
	assert.Equal(t, manager.PluginLoaded, evs[0].Kind)
	assert.Equal(t, id, evs[0].NodeID)
	assert.Equal(t, info.RequestID, evs[0].RequestID)
}

func TestLoadPlugin_DefaultsNameToDescriptor(t *testing.T) {
	m, _ := newManager(t)

	id, err := m.LoadPlugin(context.Background(), desc("Delay"), "")
	require.NoError(t, err)

	info, _ := m.Instance(id)
	assert.Equal(t, "Delay", info.DisplayName)
}

func TestLoadPlugin_InstantiationFailure(t *testing.T) {
	m, host := newManager(t)
	host.fail["Broken"] = true
	events := m.Subscribe(16)
	before := len(m.Engine().AllNodes())

	id, err := m.LoadPlugin(context.Background(), desc("Broken"), "")
	require.Error(t, err)
	assert.Equal(t, graph.InvalidNodeID, id)
	assert.ErrorIs(t, err, errNoSuchPlugin)
	errutil.AssertErrorCode(t, err, manager.CodeLoadFailed)

	assert.Empty(t, m.Instances())
	assert.Len(t, m.Engine().AllNodes(), before, "no node is created")

	evs := drain(events)
	require.Len(t, evs, 1)
	assert.Equal(t, manager.PluginLoadFailed, evs[0].Kind)
	assert.NotEmpty(t, evs[0].Err)
}

func TestLoadPlugin_PrepareFailureDisposes(t *testing.T) {
	m, host := newManager(t)

	_, err := m.LoadPlugin(context.Background(), desc("prepare-fails"), "")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, engine.CodePrepareFailed)

	proc := host.last("prepare-fails")
	require.NotNil(t, proc)
	assert.Equal(t, int32(1), proc.Releases.Load())
	assert.Empty(t, m.Instances())
}

func TestLoadPluginAsync(t *testing.T) {
	m, host := newManager(t)

	type result struct {
		id  graph.NodeID
		msg string
	}
	done := make(chan result, 2)
	cb := func(id graph.NodeID, msg string) { done <- result{id, msg} }

	host.fail["Missing"] = true
	m.LoadPluginAsync(context.Background(), desc("Gain"), "", cb)
	m.LoadPluginAsync(context.Background(), desc("Missing"), "", cb)

	var ok, failed result
	for range 2 {
		select {
		case r := <-done:
			if r.msg == "" {
				ok = r
			} else {
				failed = r
			}
		case <-time.After(5 * time.Second):
			t.Fatal("load callbacks did not fire")
		}
	}
	m.Wait()

	assert.NotEqual(t, graph.InvalidNodeID, ok.id)
	assert.Equal(t, graph.InvalidNodeID, failed.id)
	assert.Contains(t, failed.msg, "no such plugin")

	instances := m.Instances()
	require.Len(t, instances, 1)
	assert.Equal(t, ok.id, instances[0].NodeID)
}

func TestLoadPluginAsync_NilCallback(t *testing.T) {
	m, _ := newManager(t)

	m.LoadPluginAsync(context.Background(), desc("Gain"), "", nil)
	m.Wait()

	assert.Len(t, m.Instances(), 1)
}

func TestRemovePlugin(t *testing.T) {
	m, host := newManager(t)
	id, err := m.LoadPlugin(context.Background(), desc("Gain"), "")
	require.NoError(t, err)
	require.NoError(t, m.SavePreset(id, "init"))
	events := m.Subscribe(16)

	require.NoError(t, m.RemovePlugin(id))

	_, ok := m.Instance(id)
	assert.False(t, ok)
	assert.Empty(t, m.Presets(id))
	_, ok = m.Engine().NodeInfo(id)
	assert.False(t, ok)
	assert.Equal(t, int32(1), host.last("Gain").Releases.Load(), "released exactly once")

	evs := drain(events)
	require.Len(t, evs, 1)
	assert.Equal(t, manager.PluginRemoved, evs[0].Kind)
	assert.Equal(t, id, evs[0].NodeID)
}

func TestRemovePlugin_FailureKeepsBookkeeping(t *testing.T) {
	m, _ := newManager(t)

	err := m.RemovePlugin(graph.AudioInputID)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, engine.CodeFixedNode)

	err = m.RemovePlugin(999)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, engine.CodeUnknownNode)
}

func TestRemovePlugin_RacingLoadsLeaveNoStaleRecords(t *testing.T) {
	m, _ := newManager(t)
	const loads = 32

	var loaded sync.WaitGroup
	loaded.Add(loads)
	for range loads {
		m.LoadPluginAsync(context.Background(), desc("Gain"), "", func(graph.NodeID, string) { loaded.Done() })
	}
	done := make(chan struct{})
	go func() {
		loaded.Wait()
		close(done)
	}()

	// Remove nodes as soon as the engine shows them, before the load may
	// have returned.
	for finished := false; ; {
		removed := 0
		for _, n := range m.Engine().AllNodes() {
			if n.Descriptor != nil && m.RemovePlugin(n.ID) == nil {
				removed++
			}
		}
		if finished && removed == 0 {
			break
		}
		select {
		case <-done:
			finished = true
		default:
		}
	}

	assert.Empty(t, m.Instances())
	assert.Len(t, m.Engine().AllNodes(), 4)
}

func TestRemoveAll(t *testing.T) {
	m, _ := newManager(t)
	for _, name := range []string{"A", "B", "C"} {
		_, err := m.LoadPlugin(context.Background(), desc(name), "")
		require.NoError(t, err)
	}

	require.NoError(t, m.RemoveAll())
	assert.Empty(t, m.Instances())
	assert.Len(t, m.Engine().AllNodes(), 4)
}

func TestRenameAndBypass(t *testing.T) {
	m, _ := newManager(t)
	id, err := m.LoadPlugin(context.Background(), desc("Gain"), "")
	require.NoError(t, err)

	require.NoError(t, m.RenamePlugin(id, "Bus gain"))
	require.NoError(t, m.SetPluginBypassed(id, true))

	info, _ := m.Instance(id)
	assert.Equal(t, "Bus gain", info.DisplayName)
	assert.True(t, info.Bypassed)
	assert.False(t, info.Enabled)
	node, _ := m.Engine().NodeInfo(id)
	assert.True(t, node.Bypassed)

	require.NoError(t, m.SetPluginEnabled(id, true))
	info, _ = m.Instance(id)
	assert.True(t, info.Enabled)
	assert.False(t, info.Bypassed)

	assert.Error(t, m.RenamePlugin(999, "x"))
	assert.Error(t, m.SetPluginBypassed(graph.AudioOutputID, true))
}

func TestParameters(t *testing.T) {
	m, host := newManager(t)
	id, err := m.LoadPlugin(context.Background(), desc("Gain"), "")
	require.NoError(t, err)
	proc := host.last("Gain")
	events := m.Subscribe(16)

	params := m.GetPluginParameters(id)
	require.Len(t, params, 2)
	assert.Equal(t, "gain", params[0].ID)
	assert.Equal(t, "mix", params[1].ID)

	assert.InDelta(t, 0.5, m.GetParameterValue(id, 0), 1e-6)
	assert.Equal(t, "1.00", m.GetParameterText(id, 0))

	require.True(t, m.SetParameterValue(id, 0, 1))
	assert.InDelta(t, 2.0, proc.Gain(), 1e-6)
	assert.Equal(t, "2.00", m.GetParameterText(id, 0))

	require.True(t, m.SetParameterValue(id, 0, 7), "values are clamped")
	assert.InDelta(t, 1.0, m.GetParameterValue(id, 0), 1e-6)

	evs := drain(events)
	require.Len(t, evs, 2)
	assert.Equal(t, manager.ParameterChanged, evs[0].Kind)
	assert.Equal(t, 0, evs[0].Parameter)
	assert.InDelta(t, 1.0, evs[0].Value, 1e-6)

	require.True(t, m.ResetParametersToDefault(id))
	assert.InDelta(t, 1.0, proc.Gain(), 1e-6)
	assert.Len(t, drain(events), 1, "only changed parameters notify")
}

func TestParameters_FailClosed(t *testing.T) {
	m, _ := newManager(t)
	id, err := m.LoadPlugin(context.Background(), desc("Gain"), "")
	require.NoError(t, err)

	tests := []struct {
		name  string
		id    graph.NodeID
		index int
	}{
		{"unknown node", 999, 0},
		{"fixed node", graph.AudioInputID, 0},
		{"negative index", id, -1},
		{"index past end", id, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Zero(t, m.GetParameterValue(tt.id, tt.index))
			assert.False(t, m.SetParameterValue(tt.id, tt.index, 0.3))
			assert.Empty(t, m.GetParameterText(tt.id, tt.index))
		})
	}
	assert.Nil(t, m.GetPluginParameters(999))
	assert.False(t, m.ResetParametersToDefault(999))
}

func TestSetState_RebuildsInstances(t *testing.T) {
	m, _ := newManager(t)
	id, err := m.LoadPlugin(context.Background(), desc("Gain"), "Drive")
	require.NoError(t, err)
	require.True(t, m.SetParameterValue(id, 0, 0.25))
	require.NoError(t, m.SetPluginBypassed(id, true))

	state, err := m.Engine().GetState()
	require.NoError(t, err)
	require.NoError(t, m.RemovePlugin(id))

	require.NoError(t, m.SetState(context.Background(), state))

	instances := m.Instances()
	require.Len(t, instances, 1)
	restored := instances[0]
	assert.NotEqual(t, id, restored.NodeID)
	assert.Equal(t, "Drive", restored.DisplayName)
	assert.True(t, restored.Bypassed)
	assert.InDelta(t, 0.25, m.GetParameterValue(restored.NodeID, 0), 1e-6)
}
