package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `UPDATE animals SET owner_id=?, version=version+1 WHERE id=? AND version=?`
	assert.Equal(t, q, Rebind(SQLite, q))
	assert.Equal(t, `UPDATE animals SET owner_id=$1, version=version+1 WHERE id=$2 AND version=$3`, Rebind(Postgres, q))
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, dialect, err := Open(Config{Driver: "sqlite", Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, SQLite, dialect)
	require.NoError(t, conn.Ping())
	assert.FileExists(t, filepath.Join(dir, ".adoptline", "adoptline.db"))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, _, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}
