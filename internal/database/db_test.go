package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteFileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "geoquery.db")
	db, err := Open(Config{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, db.Exec("SELECT 1").Error)
	require.FileExists(t, path)
}

func TestOpenRejectsUnknownDriverAndMissingDSN(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)

	_, err = Open(Config{Driver: "postgres"})
	require.Error(t, err)
}

func TestAutoMigrateNilHandle(t *testing.T) {
	require.Error(t, AutoMigrate(nil))
}
