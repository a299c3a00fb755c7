// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "not JSON: %s", buf.String())
	return entry
}

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Service: "patchbay", Version: "1.0.0", Format: "json", Writer: &buf})
	require.NoError(t, err)

	logger.Info("engine started", "sample_rate", 48000)

	entry := decode(t, &buf)
	assert.Equal(t, "engine started", entry["msg"])
	assert.Equal(t, "patchbay", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.InDelta(t, 48000, entry["sample_rate"], 0)
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Service: "patchbay", Format: "text", Writer: &buf})
	require.NoError(t, err)

	logger.Info("scan finished")

	assert.Contains(t, buf.String(), "scan finished")
	assert.Contains(t, buf.String(), "service=patchbay")
}

func TestSetup_DefaultsToJSONAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Service: "patchbay", Writer: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.Info("shown")
	assert.Equal(t, "shown", decode(t, &buf)["msg"])
}

func TestSetup_Errors(t *testing.T) {
	_, err := Setup(Options{Format: "xml"})
	assert.Error(t, err)

	_, err = Setup(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandler_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Service: "patchbay", Writer: &buf})
	require.NoError(t, err)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	logger.InfoContext(ctx, "plugin loaded")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestHandler_NoTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Service: "patchbay", Writer: &buf})
	require.NoError(t, err)

	logger.Info("no span")

	entry := decode(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
}

func TestHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Service: "patchbay", Writer: &buf})
	require.NoError(t, err)

	logger.With("component", "catalog").WithGroup("scan").Info("progress", "files", 3)

	entry := decode(t, &buf)
	assert.Equal(t, "catalog", entry["component"])
	assert.Equal(t, "patchbay", entry["scan"].(map[string]any)["service"])
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	logger, err := SetDefault(Options{Service: "patchbay", Version: "2.0.0"})
	require.NoError(t, err)
	assert.Same(t, logger, slog.Default())
}
