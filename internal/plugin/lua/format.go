// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package lua

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/pkg/audio"
)

// FormatName is the Descriptor.Format of Lua plugins.
const FormatName = string(plugin.TypeLua)

// Format loads plugin bundles whose manifest declares type lua.
type Format struct {
	sandbox *Sandbox
	logger  *slog.Logger
}

// Compile-time interface check.
var _ plugin.Format = (*Format)(nil)

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

// NewFormat creates the Lua format backend.
func NewFormat(opts ...Option) *Format {
	f := &Format{logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	f.sandbox = NewSandbox(f.logger)
	return f
}

// Name implements plugin.Format.
func (f *Format) Name() string { return FormatName }

// Matches implements plugin.Format.
func (f *Format) Matches(path string) bool {
	return filepath.Base(path) == plugin.ManifestFile
}

// Probe implements plugin.Format. Manifests of other bundle types yield no
// descriptors. The entry script is compiled to catch syntax errors and a
// missing process function before the plugin enters the catalog.
func (f *Format) Probe(ctx context.Context, path string) ([]plugin.Descriptor, error) {
	m, err := plugin.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	if m.Type != plugin.TypeLua {
		return nil, nil
	}

	code, err := f.readEntry(m, path)
	if err != nil {
		return nil, err
	}
	L, err := f.load(ctx, m, code)
	if err != nil {
		return nil, err
	}
	L.Close()

	return []plugin.Descriptor{m.Descriptor(path, plugin.Fingerprint(code))}, nil
}

// Instantiate implements plugin.Format.
func (f *Format) Instantiate(ctx context.Context, desc plugin.Descriptor, _ float64, _ int) (audio.Processor, error) {
	m, err := plugin.LoadManifest(desc.Path)
	if err != nil {
		return nil, err
	}
	if m.Type != plugin.TypeLua {
		return nil, oops.In("lua").
			Code(plugin.CodeInstantiate).
			With("plugin", desc.Name).
			Errorf("bundle at %s is not a lua plugin", desc.Path)
	}

	code, err := f.readEntry(m, desc.Path)
	if err != nil {
		return nil, err
	}
	if desc.FileHash != "" && plugin.Fingerprint(code) != desc.FileHash {
		f.logger.Warn("lua plugin changed since it was scanned",
			"plugin", desc.Name,
			"path", desc.Path)
	}

	L, err := f.load(ctx, m, code)
	if err != nil {
		return nil, err
	}
	return newProcessor(L, m), nil
}

func (f *Format) readEntry(m *plugin.Manifest, manifestPath string) ([]byte, error) {
	entry := m.EntryPath(filepath.Dir(manifestPath))
	code, err := os.ReadFile(filepath.Clean(entry))
	if err != nil {
		return nil, oops.In("lua").
			With("plugin", m.Name).
			With("path", entry).
			Hint("failed to read entry file").
			Wrap(err)
	}
	return code, nil
}

// load runs the script in a fresh sandboxed state and checks it defines
// process. The returned state is detached from ctx.
func (f *Format) load(ctx context.Context, m *plugin.Manifest, code []byte) (*lua.LState, error) {
	L, err := f.sandbox.Open(ctx, m.Name)
	if err != nil {
		return nil, err
	}
	if err := L.DoString(string(code)); err != nil {
		L.Close()
		return nil, oops.In("lua").
			With("plugin", m.Name).
			With("entry", m.LuaPlugin.Entry).
			Hint("syntax error").
			Wrap(err)
	}
	if L.GetGlobal(fnProcess).Type() != lua.LTFunction {
		L.Close()
		return nil, oops.In("lua").
			With("plugin", m.Name).
			Errorf("script does not define a %s function", fnProcess)
	}
	L.RemoveContext()
	return L, nil
}
