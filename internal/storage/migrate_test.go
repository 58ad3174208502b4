package storage

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/lanewatch/internal/config"
)

func TestMigrateURL(t *testing.T) {
	cfg := config.DatabaseConfig{Host: "db", Port: 5432, Name: "lw", User: "u", Password: "p"}
	assert.Equal(t, "pgx5://u:p@db:5432/lw?sslmode=disable", migrateURL(cfg))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))

	for _, name := range ups {
		data, err := fs.ReadFile(migrationsFS, name)
		require.NoError(t, err)
		assert.NotEmpty(t, data, name)
	}
}

func TestInitMigrationCreatesTables(t *testing.T) {
	data, err := fs.ReadFile(migrationsFS, "migrations/0001_init.up.sql")
	require.NoError(t, err)
	for _, table := range []string{"streams", "stream_lanes", "intrusions"} {
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}
