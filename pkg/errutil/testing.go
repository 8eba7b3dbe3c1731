// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"fmt"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err carries the oops code. The failure
// message includes the error text.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.Truef(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equalf(t, code, oopsErr.Code(), "error: %v", err)
}

// AssertErrorContext asserts that err carries the context key with value.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.Truef(t, ok, "expected oops error, got %T: %v", err, err)
	ctx := oopsErr.Context()
	require.Containsf(t, ctx, key, "error: %v", err)
	assert.Equal(t, value, ctx[key])
}

// AssertNoSecrets asserts that neither the error text nor any oops context
// value contains one of the secrets.
func AssertNoSecrets(t testing.TB, err error, secrets ...string) {
	t.Helper()
	text := err.Error()
	var ctx map[string]any
	if oopsErr, ok := oops.AsOops(err); ok {
		ctx = oopsErr.Context()
	}
	for _, secret := range secrets {
		assert.NotContainsf(t, text, secret, "error text leaks a secret")
		for key, v := range ctx {
			assert.NotContainsf(t, fmt.Sprint(v), secret, "context key %q leaks a secret", key)
		}
	}
}
