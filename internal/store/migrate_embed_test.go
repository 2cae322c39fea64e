// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/pkg/errutil"
)

func TestMigrationsFS_EmbeddedFiles(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	for _, expected := range []string{
		"000001_create_accounts.up.sql",
		"000001_create_accounts.down.sql",
		"000002_recovery_code_expiry.up.sql",
		"000002_recovery_code_expiry.down.sql",
	} {
		assert.True(t, names[expected], "should contain %s", expected)
	}

	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	for name := range names {
		assert.True(t, pattern.MatchString(name), "file %s should match NNNNNN_name.(up|down).sql", name)
	}
}

func TestMigrationsFS_EveryUpHasDown(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	for name := range names {
		if base, ok := strings.CutSuffix(name, ".up.sql"); ok {
			assert.True(t, names[base+".down.sql"], "%s has no down migration", name)
		}
	}
}

func TestAllMigrationVersions(t *testing.T) {
	got, err := allMigrationVersions()
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, got)

	got[0] = 99
	again, err := allMigrationVersions()
	require.NoError(t, err)
	assert.Equal(t, uint(1), again[0], "callers must not be able to mutate the cache")
}

func TestMigrationVersions_RejectsMalformedNames(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/000001_ok.up.sql":   {Data: []byte("SELECT 1;")},
		"migrations/oops_bad.up.sql":    {Data: []byte("SELECT 1;")},
		"migrations/000001_ok.down.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := migrationVersions(fsys)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_BAD_FILENAME")
}

func TestMigrationVersions_IgnoresNonUpFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/000003_c.up.sql":   {Data: []byte("SELECT 1;")},
		"migrations/000001_a.up.sql":   {Data: []byte("SELECT 1;")},
		"migrations/000001_a.down.sql": {Data: []byte("SELECT 1;")},
		"migrations/README.md":         {Data: []byte("notes")},
	}
	got, err := migrationVersions(fsys)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3}, got)
}

func TestMigrationName(t *testing.T) {
	name, err := MigrationName(1)
	require.NoError(t, err)
	assert.Equal(t, "000001_create_accounts", name)

	name, err = MigrationName(404)
	require.NoError(t, err)
	assert.Empty(t, name)
}
