package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017/testdb")
	t.Setenv("MONGODB_DATABASE", "artisthub_test")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "testsecret123456789012345678901234")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "mongo", cfg.Store.Driver)
	require.Equal(t, "artisthub_test", cfg.MongoDB.Database)
	require.Equal(t, "localhost", cfg.Redis.Host)
	require.Equal(t, 15, cfg.Admin.PageSize)
	require.Equal(t, "admin_session", cfg.Session.CookieName)
}

func TestLoadConfig_DefaultsToMemoryStore(t *testing.T) {
	t.Setenv("MONGODB_URI", "")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("STORE_DRIVER", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoadConfig_ExplicitDriverWins(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("ADMIN_PAGE_SIZE", "25")
	t.Setenv("ADMIN_MAX_PAGE_SIZE", "10")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.Store.Driver)
	require.Equal(t, 25, cfg.Admin.PageSize)
	require.Equal(t, 25, cfg.Admin.MaxPageSize)
}
