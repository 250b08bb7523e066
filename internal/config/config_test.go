package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadServerFlagsOverrideDefaults(t *testing.T) {
	cfg, err := LoadServer([]string{"--listen", ":9000", "--server-auth", "secret"})
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddr)
	require.Equal(t, "secret", cfg.ServerAuth)
	require.Equal(t, 5354, cfg.DiscoveryPort) // untouched default
}

func TestLoadServerFlagsOverrideYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":1234\"\nserver_auth: \"from-yaml\"\n"), 0o644))

	cfg, err := LoadServer([]string{"--config", path})
	require.NoError(t, err)
	require.Equal(t, ":1234", cfg.ListenAddr)
	require.Equal(t, "from-yaml", cfg.ServerAuth)

	cfg2, err := LoadServer([]string{"--config", path, "--listen", ":5555"})
	require.NoError(t, err)
	require.Equal(t, ":5555", cfg2.ListenAddr, "flags must take precedence over the YAML file")
}

func TestLoadServerFallsBackToEnvForAuth(t *testing.T) {
	t.Setenv("XIAO_SERVER_AUTH", "env-server-secret")
	t.Setenv("XIAO_CLIENT_AUTH", "env-client-secret")

	cfg, err := LoadServer(nil)
	require.NoError(t, err)
	require.Equal(t, "env-server-secret", cfg.ServerAuth)
	require.Equal(t, "env-client-secret", cfg.ClientAuth)
}

func TestLoadClientDefaults(t *testing.T) {
	cfg, err := LoadClient(nil)
	require.NoError(t, err)
	require.Equal(t, 5354, cfg.DiscoveryPort)
	require.Equal(t, "info", cfg.LogLevel)
}
