// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/patchbay/patchbay/internal/plugin"
)

func TestDeriveUID(t *testing.T) {
	uid := plugin.DeriveUID("lua", "tremolo", "Acme")

	assert.Len(t, uid, 16)
	assert.Equal(t, uid, plugin.DeriveUID("lua", "tremolo", "Acme"))
	assert.NotEqual(t, uid, plugin.DeriveUID("binary", "tremolo", "Acme"))
	assert.NotEqual(t, uid, plugin.DeriveUID("lua", "tremolo", ""))
	assert.NotEqual(t, plugin.DeriveUID("lua", "ab", "c"), plugin.DeriveUID("lua", "a", "bc"))
}

func TestFingerprint(t *testing.T) {
	assert.Len(t, plugin.Fingerprint(nil), 64)
	assert.Equal(t, plugin.Fingerprint([]byte("x")), plugin.Fingerprint([]byte("x")))
	assert.NotEqual(t, plugin.Fingerprint([]byte("x")), plugin.Fingerprint([]byte("y")))
}

func TestDescriptor_IsZero(t *testing.T) {
	assert.True(t, plugin.Descriptor{}.IsZero())
	assert.False(t, plugin.Descriptor{Name: "gain"}.IsZero())
}
