// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package errutil

import (
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestingT is the part of testing.TB the assertions use. *testing.T and
// GinkgoT() both satisfy it.
type TestingT interface {
	require.TestingT
	Helper()
}

func asOops(t TestingT, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err is an oops error whose innermost code
// is code.
func AssertErrorCode(t TestingT, err error, code string) {
	t.Helper()
	assert.Equal(t, code, asOops(t, err).Code(), "error: %v", err)
}

// AssertErrorDomain asserts the oops domain set with oops.In.
func AssertErrorDomain(t TestingT, err error, domain string) {
	t.Helper()
	assert.Equal(t, domain, asOops(t, err).Domain(), "error: %v", err)
}

// AssertErrorContext asserts that err carries key=value in its context.
func AssertErrorContext(t TestingT, err error, key string, value any) {
	t.Helper()
	ctx := asOops(t, err).Context()
	if assert.Contains(t, ctx, key) {
		assert.Equal(t, value, ctx[key])
	}
}
