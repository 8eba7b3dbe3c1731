// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"encoding/json"
	"net/http"

	"github.com/holomush/authd/internal/auth"
)

type successResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details []auth.FieldError `json:"details,omitempty"`
}

type errorResponse struct {
	Success bool     `json:"success"`
	Error   apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, e apiError) {
	writeJSON(w, status, errorResponse{Error: e})
}
