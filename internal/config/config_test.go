package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, config.StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, config.CollectionRaw, cfg.CollectionMode)
	assert.Equal(t, 10, cfg.WeeklyAnalysisLimit)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "user-data", cfg.StorageBucket)
	assert.False(t, cfg.ConsentGatedAccess)
	assert.False(t, cfg.UseSupabaseStorage())
}

func TestLoad_SupabaseInferredFromURL(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://example.supabase.co/")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service")
	t.Setenv("HTTP_TIMEOUT", "3s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.StoreSupabase, cfg.StoreDriver)
	assert.Equal(t, "https://example.supabase.co", cfg.SupabaseURL)
	assert.Equal(t, 3*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.UseSupabaseStorage())
}

func TestLoad_RejectsUnknownCollectionMode(t *testing.T) {
	t.Setenv("COLLECTION_MODE", "everything")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_PostgresRequiresURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ETSY_TEST_ONLY_KEY=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ETSY_TEST_ONLY_KEY") })

	path, err := config.LoadDotEnv(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".env"), path)
	assert.Equal(t, "from-file", os.Getenv("ETSY_TEST_ONLY_KEY"))

	missing, err := config.LoadDotEnv(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, missing)
}
