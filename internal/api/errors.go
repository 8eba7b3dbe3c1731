// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"errors"
	"net/http"

	"github.com/holomush/authd/internal/auth"
)

type errorMapping struct {
	status  int
	message string
}

var errorStatuses = map[auth.Kind]errorMapping{
	auth.KindValidationFailed:      {http.StatusBadRequest, "Validation failed"},
	auth.KindDuplicateEmail:        {http.StatusConflict, "User already exists"},
	auth.KindUserNotFound:          {http.StatusNotFound, "User not found"},
	auth.KindInvalidCredentials:    {http.StatusUnauthorized, "Invalid email or password"},
	auth.KindInvalidOrExpiredOTP:   {http.StatusBadRequest, "Invalid or expired code"},
	auth.KindInvalidOrExpiredToken: {http.StatusBadRequest, "Invalid or expired reset token"},
	auth.KindPasswordMismatch:      {http.StatusBadRequest, "Passwords do not match"},
	auth.KindRateLimited:           {http.StatusTooManyRequests, "Too many attempts, try again later"},
	auth.KindServiceUnavailable:    {http.StatusServiceUnavailable, "Service temporarily unavailable"},
}

// StatusFor returns the HTTP status for an error kind.
func StatusFor(k auth.Kind) int {
	if mapping, ok := errorStatuses[k]; ok {
		return mapping.status
	}
	return http.StatusServiceUnavailable
}

// errorBody builds the response error for err. Internal error text is only
// included when development is true.
func errorBody(err error, development bool) (int, apiError) {
	k := auth.KindOf(err)
	mapping, ok := errorStatuses[k]
	if !ok {
		k = auth.KindServiceUnavailable
		mapping = errorStatuses[k]
	}
	body := apiError{Code: string(k), Message: mapping.message}

	var ve *auth.ValidationError
	if errors.As(err, &ve) {
		body.Details = ve.Fields
	}
	if k == auth.KindServiceUnavailable && development {
		body.Details = []auth.FieldError{{Field: "error", Message: err.Error()}}
	}
	return mapping.status, body
}

func validationFailed(fields []auth.FieldError) error {
	return &auth.ValidationError{Fields: fields}
}
