// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchbay/patchbay/pkg/errutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.InDelta(t, 48000, cfg.Audio.SampleRate, 0)
	assert.Equal(t, 512, cfg.Audio.BlockSize)
	assert.True(t, cfg.Audio.EnableMIDI)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
audio:
  sample-rate: 44100
  block-size: 256
  midi: false
plugins:
  paths: [/opt/plugins]
  recursive: false
  blacklist: ["lua:*"]
  chain: [gain, delay]
log:
  format: json
metrics:
  addr: ""
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.InDelta(t, 44100, cfg.Audio.SampleRate, 0)
	assert.Equal(t, 256, cfg.Audio.BlockSize)
	assert.False(t, cfg.Audio.EnableMIDI)
	assert.Equal(t, 2, cfg.Audio.NumOutputChannels, "unset keys keep defaults")
	assert.Equal(t, []string{"/opt/plugins"}, cfg.Plugins.Paths)
	assert.False(t, cfg.Plugins.Recursive)
	assert.Equal(t, []string{"lua:*"}, cfg.Plugins.Blacklist)
	assert.Equal(t, []string{"gain", "delay"}, cfg.Plugins.Chain)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoad_DefaultFileFromXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "patchbay"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patchbay", "config.yaml"), []byte("audio:\n  block-size: 128\n"), 0o600))

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Audio.BlockSize)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "audio:\n  sample-rate: 44100\n  block-size: 256\n")
	fs := newFlags(t, "--block-size=1024", "--chain=gain,delay", "--log-format=json")

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.InDelta(t, 44100, cfg.Audio.SampleRate, 0, "file value survives unset flag")
	assert.Equal(t, 1024, cfg.Audio.BlockSize)
	assert.Equal(t, []string{"gain", "delay"}, cfg.Plugins.Chain)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
		errutil.AssertErrorCode(t, err, CodeInvalid)
	})
	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "audio: [unterminated"), nil)
		errutil.AssertErrorCode(t, err, CodeInvalid)
	})
	t.Run("invalid audio", func(t *testing.T) {
		_, err := Load(writeConfig(t, "audio:\n  block-size: 3\n"), nil)
		errutil.AssertErrorCode(t, err, CodeInvalid)
	})
	t.Run("invalid log format", func(t *testing.T) {
		_, err := Load(writeConfig(t, "log:\n  format: xml\n"), nil)
		errutil.AssertErrorCode(t, err, CodeInvalid)
	})
	t.Run("invalid log level", func(t *testing.T) {
		_, err := Load(writeConfig(t, "log:\n  level: chatty\n"), nil)
		errutil.AssertErrorCode(t, err, CodeInvalid)
	})
}
