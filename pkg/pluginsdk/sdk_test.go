// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package pluginsdk_test

import (
	"net"
	"net/rpc"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/patchbay/patchbay/pkg/audio/audiotest"
	"github.com/patchbay/patchbay/pkg/pluginsdk"
)

// connect serves impl over an in-memory pipe the way go-plugin does.
func connect(t *testing.T, impl *audiotest.Processor) *pluginsdk.RPCClient {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("Plugin", pluginsdk.NewRPCServer(impl)))

	serverConn, clientConn := net.Pipe()
	go server.ServeConn(serverConn)

	client := rpc.NewClient(clientConn)
	t.Cleanup(func() { _ = client.Close() })
	return pluginsdk.NewRPCClient(client)
}

func TestServeConfig_ProcessorRequired(t *testing.T) {
	assert.Panics(t, func() { pluginsdk.Serve(nil) })
	assert.Panics(t, func() { pluginsdk.Serve(&pluginsdk.ServeConfig{}) })
}

func TestHandshakeConfig(t *testing.T) {
	assert.Equal(t, uint(1), pluginsdk.HandshakeConfig.ProtocolVersion)
	assert.Equal(t, "PATCHBAY_PLUGIN", pluginsdk.HandshakeConfig.MagicCookieKey)
	assert.NotEmpty(t, pluginsdk.HandshakeConfig.MagicCookieValue)
}

func TestPluginMap(t *testing.T) {
	m := pluginsdk.PluginMap(nil)
	require.Contains(t, m, pluginsdk.PluginName)

	_, err := m[pluginsdk.PluginName].Server(nil)
	assert.Error(t, err, "a nil processor cannot be served")
}

func TestRPC_Info(t *testing.T) {
	impl := audiotest.New("tremolo", 2, 2)
	impl.MIDIIn = true
	impl.Latency = 32
	c := connect(t, impl)

	info, err := c.Info()
	require.NoError(t, err)
	assert.Equal(t, "tremolo", info.Name)
	assert.Equal(t, 2, info.NumInputs)
	assert.True(t, info.AcceptsMIDI)
	assert.Equal(t, 32, info.Latency)
	require.Len(t, info.Parameters, 2)
	assert.Equal(t, "gain", info.Parameters[0].ID)
}

func TestRPC_Lifecycle(t *testing.T) {
	impl := audiotest.Stereo("fx")
	c := connect(t, impl)

	require.NoError(t, c.Prepare(44100, 128))
	assert.Equal(t, int32(1), impl.Prepares.Load())
	assert.InDelta(t, 44100, impl.SampleRate, 0)

	require.NoError(t, c.Reset())
	require.NoError(t, c.Release())
	assert.Equal(t, int32(1), impl.Releases.Load())

	impl.FailPrepare = true
	err := c.Prepare(44100, 128)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prepare failed")
}

func TestRPC_Process(t *testing.T) {
	impl := audiotest.Stereo("fx")
	impl.MIDIIn = true
	c := connect(t, impl)
	require.NoError(t, c.Prepare(48000, 4))

	args := &pluginsdk.ProcessArgs{
		Frames:     4,
		Channels:   [][]float32{{1, 1, 1, 1}, {0.5, 0.5, 0.5, 0.5}},
		Events:     []pluginsdk.Event{{Offset: 2, Data: midi.NoteOn(0, 60, 100)}},
		Parameters: []float32{0.25, 1}, // gain 0.5
	}
	var reply pluginsdk.ProcessReply
	require.NoError(t, c.Process(args, &reply))

	require.Len(t, reply.Channels, 2)
	assert.InDelta(t, 0.5, reply.Channels[0][3], 1e-6)
	assert.InDelta(t, 0.25, reply.Channels[1][0], 1e-6)
	assert.Equal(t, int64(1), impl.MIDISeen.Load())
	require.Len(t, reply.Events, 1)
	assert.Equal(t, 2, reply.Events[0].Offset)
	assert.InDelta(t, 0.5, impl.Gain(), 1e-6)
}

func TestRPC_ProcessPadsMissingChannels(t *testing.T) {
	impl := audiotest.New("synth", 0, 2)
	c := connect(t, impl)

	var reply pluginsdk.ProcessReply
	require.NoError(t, c.Process(&pluginsdk.ProcessArgs{Frames: 8}, &reply))
	require.Len(t, reply.Channels, 2)
	assert.Len(t, reply.Channels[1], 8)
}
