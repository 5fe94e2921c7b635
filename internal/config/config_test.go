package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-client/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("TOKEN_LEEWAY", "")
	t.Setenv("ROUTES_FILE", "")
	t.Setenv("PROTECTED_PREFIXES", "")
	t.Setenv("STORE_BACKEND", "")
	c := config.New()

	require.Equal(t, "/auth/login", c.GetLoginPath())
	require.Equal(t, "/dashboard", c.GetLandingPath())
	require.Equal(t, []string{"/dashboard"}, c.GetProtectedPrefixes())
	require.Contains(t, c.GetAuthOnlyPaths(), "/auth/register")
	require.Equal(t, time.Duration(0), c.GetTokenLeeway())
	require.Equal(t, config.StoreBackendFile, c.GetStoreBackend())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROUTES_FILE", "")
	t.Setenv("PROTECTED_PREFIXES", "/dashboard, /settings,,")
	t.Setenv("REFRESH_TIMEOUT", "3s")
	t.Setenv("VERIFY_TIMEOUT", "not-a-duration")
	c := config.New()

	require.Equal(t, []string{"/dashboard", "/settings"}, c.GetProtectedPrefixes())
	require.Equal(t, 3*time.Second, c.GetRefreshTimeout())
	require.Equal(t, 10*time.Second, c.GetVerifyTimeout())
}

func TestRoutesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
login_path: /signin
landing_path: /home
protected:
  - /home
  - /documents
auth_only:
  - /signin
`), 0o600))
	t.Setenv("ROUTES_FILE", path)
	c := config.New()

	require.Equal(t, "/signin", c.GetLoginPath())
	require.Equal(t, "/home", c.GetLandingPath())
	require.Equal(t, []string{"/home", "/documents"}, c.GetProtectedPrefixes())
	require.Equal(t, []string{"/signin"}, c.GetAuthOnlyPaths())
}

func TestStoreKey(t *testing.T) {
	t.Setenv("STORE_KEY", "")
	key, err := config.Store{}.GetStoreKey()
	require.NoError(t, err)
	require.Nil(t, key)

	t.Setenv("STORE_KEY", "abcd")
	_, err = config.Store{}.GetStoreKey()
	require.Error(t, err)

	t.Setenv("STORE_KEY", "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	key, err = config.Store{}.GetStoreKey()
	require.NoError(t, err)
	require.Len(t, key, 32)
}
