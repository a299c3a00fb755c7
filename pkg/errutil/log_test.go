// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchbay/patchbay/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogError(t *testing.T) {
	tests := map[string]struct {
		err   error
		args  []any
		check func(t *testing.T, entry map[string]any)
	}{
		"oops error": {
			err: oops.In("manager").Code("PLUGIN_NOT_FOUND").With("plugin_id", 4).Errorf("no such plugin"),
			check: func(t *testing.T, entry map[string]any) {
				assert.Equal(t, "PLUGIN_NOT_FOUND", entry["code"])
				assert.Equal(t, "no such plugin", entry["error"])
				assert.Equal(t, map[string]any{"plugin_id": float64(4)}, entry["context"])
				assert.NotContains(t, entry, "hint")
			},
		},
		"hint and extra attributes": {
			err:  oops.In("catalog").Hint("check the manifest").Errorf("probe failed"),
			args: []any{"path", "/plugins/gain/plugin.yaml"},
			check: func(t *testing.T, entry map[string]any) {
				assert.Equal(t, "/plugins/gain/plugin.yaml", entry["path"])
				assert.Equal(t, "check the manifest", entry["hint"])
				assert.NotContains(t, entry, "code")
			},
		},
		"standard error": {
			err: errors.New("device lost"),
			check: func(t *testing.T, entry map[string]any) {
				assert.Equal(t, "device lost", entry["error"])
				assert.NotContains(t, entry, "context")
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			errutil.LogError(slog.New(slog.NewJSONHandler(&buf, nil)), "operation failed", tt.err, tt.args...)

			entry := decode(t, &buf)
			assert.Equal(t, "ERROR", entry["level"])
			assert.Equal(t, "operation failed", entry["msg"])
			tt.check(t, entry)
		})
	}
}

type ctxKey struct{}

// tagHandler copies a context value into the record.
type tagHandler struct{ slog.Handler }

func (h tagHandler) Handle(ctx context.Context, r slog.Record) error {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		r.AddAttrs(slog.String("trace", v))
	}
	return h.Handler.Handle(ctx, r)
}

func TestLogErrorContext_PassesContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(tagHandler{slog.NewJSONHandler(&buf, nil)})
	ctx := context.WithValue(context.Background(), ctxKey{}, "span-1")

	errutil.LogErrorContext(ctx, logger, "render failed", errors.New("xrun"))
	assert.Equal(t, "span-1", decode(t, &buf)["trace"])
}

func TestAttrs_StandardError(t *testing.T) {
	err := errors.New("plain")
	assert.Equal(t, []any{"error", err}, errutil.Attrs(err))
}
