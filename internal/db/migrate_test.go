// Package db tests for database migration management.
package db

import (
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/cutlog/internal/db/migrations"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Each connection of :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"V1__create_a.up.sql":   {Data: []byte("CREATE TABLE a (id INTEGER PRIMARY KEY);")},
		"V1__create_a.down.sql": {Data: []byte("DROP TABLE a;")},
		"V2__create_b.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER PRIMARY KEY);")},
		"V2__create_b.down.sql": {Data: []byte("DROP TABLE b;")},
		"README.md":             {Data: []byte("ignored")},
		"Vx__bad.up.sql":        {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count))
	return count == 1
}

func TestMigrator_Up(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations())
	require.NoError(t, m.Initialize())

	require.NoError(t, m.Up())

	assert.True(t, tableExists(t, db, "a"))
	assert.True(t, tableExists(t, db, "b"))

	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	applied, err := m.GetAppliedMigrations()
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "create_a", applied[0].Description)
	assert.Len(t, applied[0].Checksum, 64)

	// Second run is a no-op.
	require.NoError(t, m.Up())
}

func TestMigrator_UpDetectsChecksumMismatch(t *testing.T) {
	db := openMemory(t)
	source := testMigrations()
	m := NewMigrator(db, source)
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Up())

	source["V1__create_a.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE a (id TEXT);")}
	assert.Error(t, m.Up())
}

func TestMigrator_Down(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations())
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Up())

	require.NoError(t, m.Down())
	assert.False(t, tableExists(t, db, "b"))
	assert.True(t, tableExists(t, db, "a"))

	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	require.NoError(t, m.Down())
	assert.Error(t, m.Down(), "nothing left to roll back")
}

func TestParseMigrationName(t *testing.T) {
	f, ok := parseMigrationName("V12__add_index.up.sql", ".up.sql")
	require.True(t, ok)
	assert.Equal(t, 12, f.version)
	assert.Equal(t, "add_index", f.description)

	for _, name := range []string{"V1.up.sql", "V0__zero.up.sql", "Vx__bad.up.sql", "V1__a.down.sql"} {
		_, ok := parseMigrationName(name, ".up.sql")
		assert.False(t, ok, name)
	}
}

func TestEmbeddedMigrationsApply(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, migrations.FS)
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Up())
	assert.True(t, tableExists(t, db, "pending_operations"))

	require.NoError(t, m.Down())
	assert.False(t, tableExists(t, db, "pending_operations"))
}
