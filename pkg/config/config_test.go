package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xrbrokerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("socket_path: /tmp/custom.sock\nmax_clients: 16\nlog_level: debug\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom.sock", cfg.SocketPath)
	require.Equal(t, 16, cfg.MaxClients)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.Metrics.Enabled) // untouched default survives the partial override
}

func TestLoad_RejectsInvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xrbrokerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: verbose\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsMissingMetricsAddrWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xrbrokerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  enabled: true\n  addr: \"\"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSave_WritesLoadableYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "xrbrokerd.yaml")

	require.NoError(t, Save(Defaults(), path))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}
