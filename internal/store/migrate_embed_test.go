// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsFS_EmbeddedFiles(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	names := make(map[string]bool, len(entries))
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	assert.True(t, names["000001_identities.up.sql"])
	assert.True(t, names["000001_identities.down.sql"])

	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	for name := range names {
		assert.True(t, pattern.MatchString(name), "file %s should match NNNNNN_name.(up|down).sql", name)
	}

	// Every up has a down.
	for name := range names {
		if stem, ok := strings.CutSuffix(name, ".up.sql"); ok {
			assert.True(t, names[stem+".down.sql"], "missing down migration for %s", stem)
		}
	}
}

func TestMigrationsFS_IdentitiesInvariants(t *testing.T) {
	body, err := migrationsFS.ReadFile("migrations/000001_identities.up.sql")
	require.NoError(t, err)
	sql := string(body)

	assert.Contains(t, sql, "CREATE UNIQUE INDEX identities_email_key ON identities (email)")
	assert.Contains(t, sql, "email = lower(btrim(email))")
	assert.Contains(t, sql, "recovery_code_hash IS NULL OR recovery_token_hash IS NULL")
}
