// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"net/http"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
	corsMaxAge       = "600"
)

// CORS applies cross-origin headers for a set of allowed origin patterns.
// Patterns are globs such as "https://*.example.com"; "*" allows any origin.
type CORS struct {
	any      bool
	patterns []glob.Glob
}

// NewCORS compiles the origin patterns.
func NewCORS(origins []string) (*CORS, error) {
	c := &CORS{}
	for _, origin := range origins {
		if origin == "*" {
			c.any = true
			continue
		}
		g, err := glob.Compile(origin)
		if err != nil {
			return nil, oops.Code("CORS_INVALID_ORIGIN").With("origin", origin).Wrap(err)
		}
		c.patterns = append(c.patterns, g)
	}
	return c, nil
}

// Allowed reports whether origin may call the API.
func (c *CORS) Allowed(origin string) bool {
	if c.any {
		return true
	}
	for _, g := range c.patterns {
		if g.Match(origin) {
			return true
		}
	}
	return false
}

// Wrap returns next with CORS handling. Preflight requests are answered
// directly.
func (c *CORS) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", "Origin")
		allowed := c.Allowed(origin)
		if allowed {
			if c.any {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
			w.Header().Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
