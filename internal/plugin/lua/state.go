// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package lua hosts scripted processors written in Lua and run in a
// sandboxed gopher-lua state.
package lua

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// Sandbox limits. Audio scripts recurse little and keep small tables; the
// registry grows on demand up to registryMax.
const (
	callStackSize = 256
	registrySize  = 1024
	registryMax   = 64 * 1024
)

// library is a Lua standard library opened in every sandbox.
type library struct {
	name string
	open lua.LGFunction
}

// audioLibraries are the libraries scripts may use. os, io, debug, package,
// coroutine and channel are never opened.
var audioLibraries = []library{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// blockedGlobals are base functions that load code or reach the filesystem.
var blockedGlobals = []string{"dofile", "loadfile", "loadstring", "load", "require", "collectgarbage"}

// Sandbox creates restricted Lua states for plugin scripts.
type Sandbox struct {
	libraries []library
	logger    *slog.Logger
}

// NewSandbox creates a sandbox whose scripts print to logger at debug level.
func NewSandbox(logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{libraries: audioLibraries, logger: logger}
}

// Open creates a state for the named plugin. The state is bound to ctx so
// a cancelled load aborts a runaway script; callers detach it with
// RemoveContext before rendering.
func (s *Sandbox) Open(ctx context.Context, plugin string) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       callStackSize,
		RegistrySize:        registrySize,
		RegistryMaxSize:     registryMax,
		MinimizeStackMemory: true,
	})

	for _, lib := range s.libraries {
		err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.open), NRet: 0, Protect: true}, lua.LString(lib.name))
		if err != nil {
			L.Close()
			return nil, oops.In("lua").
				With("plugin", plugin).
				With("library", lib.name).
				Wrapf(err, "open library %s", lib.name)
		}
	}
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(s.print(plugin)))

	if ctx != nil {
		L.SetContext(ctx)
	}
	return L, nil
}

// print replaces the base print so scripts cannot write to stdout, which a
// binary host may use for its own protocol.
func (s *Sandbox) print(plugin string) lua.LGFunction {
	return func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
		}
		s.logger.Debug("lua print", "plugin", plugin, "message", strings.Join(parts, "\t"))
		return 0
	}
}
