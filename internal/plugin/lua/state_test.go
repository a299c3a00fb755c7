// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package lua_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	pluginlua "github.com/patchbay/patchbay/internal/plugin/lua"
)

func openState(t *testing.T, sb *pluginlua.Sandbox) *lua.LState {
	t.Helper()
	L, err := sb.Open(context.Background(), "test")
	require.NoError(t, err)
	t.Cleanup(L.Close)
	return L
}

func TestSandbox_Globals(t *testing.T) {
	L := openState(t, pluginlua.NewSandbox(nil))

	for _, lib := range []string{"table", "string", "math"} {
		assert.NotEqual(t, lua.LTNil, L.GetGlobal(lib).Type(), lib)
	}
	for _, name := range []string{"os", "io", "debug", "package", "coroutine", "dofile", "loadfile", "loadstring", "load", "require", "collectgarbage"} {
		assert.Equal(t, lua.LTNil, L.GetGlobal(name).Type(), "%s reachable from a sandboxed state", name)
	}
}

func TestSandbox_RunsDSPCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"arithmetic", `result = 1 + 1`, "2"},
		{"math", `result = math.floor(math.sin(math.pi / 2) * 100)`, "100"},
		{"string", `result = string.format("%.1f dB", -6)`, "-6.0 dB"},
		{"table", `t = {3, 1, 2}; table.sort(t); result = t[1]`, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			L := openState(t, pluginlua.NewSandbox(nil))
			require.NoError(t, L.DoString(tt.code))
			assert.Equal(t, tt.want, L.GetGlobal("result").String())
		})
	}
}

func TestSandbox_StatesAreIndependent(t *testing.T) {
	sb := pluginlua.NewSandbox(nil)
	L1 := openState(t, sb)
	L2 := openState(t, sb)

	require.NoError(t, L1.DoString(`gain = 0.5`))
	assert.Equal(t, lua.LTNil, L2.GetGlobal("gain").Type())
}

func TestSandbox_PrintGoesToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	L := openState(t, pluginlua.NewSandbox(logger))

	require.NoError(t, L.DoString(`print("level", 0.5)`))
	assert.Contains(t, buf.String(), "plugin=test")
	assert.Contains(t, buf.String(), `message="level\t0.5"`)
}

func TestSandbox_BoundedRecursion(t *testing.T) {
	L := openState(t, pluginlua.NewSandbox(nil))

	err := L.DoString(`local function f(n) return f(n + 1) + 1 end; f(0)`)
	assert.Error(t, err, "unbounded recursion overflows the call stack")
}

func TestSandbox_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	L, err := pluginlua.NewSandbox(nil).Open(ctx, "spin")
	require.NoError(t, err)
	defer L.Close()

	cancel()
	assert.Error(t, L.DoString(`while true do end`), "a cancelled context aborts the script")
}
