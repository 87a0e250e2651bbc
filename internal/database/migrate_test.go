package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/aimerfeng/BioLink/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrations.FS, "*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		_, err := fs.Stat(migrations.FS, down)
		assert.NoError(t, err, "%s has no matching down migration", up)
	}
}

func TestEmbeddedMigrationsCreateCoreTables(t *testing.T) {
	var all strings.Builder
	ups, err := fs.Glob(migrations.FS, "*.up.sql")
	require.NoError(t, err)
	for _, up := range ups {
		b, err := fs.ReadFile(migrations.FS, up)
		require.NoError(t, err)
		all.Write(b)
	}

	for _, table := range []string{"users", "links", "analytics_daily", "analytics_referrers", "link_clicks_daily", "api_keys", "api_request_logs"} {
		assert.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
}
