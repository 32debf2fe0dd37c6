package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t, "SERVER_PORT", "SERVER_PATH_PREFIX", "CACHE_TYPE")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "/dicom-web", cfg.Server.PathPrefix)
	require.Equal(t, "memory", cfg.Cache.Type)
	require.NoError(t, cfg.Validate())
}

func TestLoadHonorsOverrides(t *testing.T) {
	clearEnv(t, "SERVER_PORT", "PIPELINE_STRICT_ORDERING")
	os.Setenv("SERVER_PORT", "9090")
	os.Setenv("PIPELINE_STRICT_ORDERING", "false")
	t.Cleanup(func() {
		os.Unsetenv("SERVER_PORT")
		os.Unsetenv("PIPELINE_STRICT_ORDERING")
	})

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.False(t, cfg.Pipeline.StrictOrdering)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingPathPrefixSlash(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Server.PathPrefix = "dicom-web"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsTLSWithoutFiles(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Server.TLSEnabled = true
	cfg.Server.TLSCertFile = ""
	require.Error(t, cfg.Validate())
}

func TestCORSListParsing(t *testing.T) {
	clearEnv(t, "CORS_ALLOWED_ORIGINS")
	os.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Cleanup(func() { os.Unsetenv("CORS_ALLOWED_ORIGINS") })

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}
