// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/authd/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("AUTH_LOGIN_FAILED").Errorf("store down")
	errutil.AssertErrorCode(t, err, "AUTH_LOGIN_FAILED")
}

func TestAssertErrorCode_WrappedByFmt(t *testing.T) {
	inner := oops.Code("STORE_CONNECT_FAILED").Wrap(errors.New("refused"))
	errutil.AssertErrorCode(t, fmt.Errorf("serve: %w", inner), "STORE_CONNECT_FAILED")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("operation", "FindByEmail").Errorf("lookup failed")
	errutil.AssertErrorContext(t, err, "operation", "FindByEmail")
}

func TestAssertNoSecrets_CleanError(t *testing.T) {
	err := oops.Code("AUTH_RESET_FAILED").
		With("operation", "Save").
		With("email", "a@x.com").
		Wrap(errors.New("connection reset"))
	errutil.AssertNoSecrets(t, err, "newpw12", "4821")
}

func TestAssertNoSecrets_PlainError(t *testing.T) {
	errutil.AssertNoSecrets(t, errors.New("store down"), "newpw12")
}
