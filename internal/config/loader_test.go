package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultConfigWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "peerchat.yaml")

	cfg, resolved, err := Load(nil, path)
	require.NoError(t, err)
	require.Equal(t, path, resolved)
	require.Equal(t, Default(), cfg)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr, "default config should be written")

	// Second load reads the written file back unchanged.
	again, _, err := Load(nil, path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peerchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\npeer:\n  directory_url: http://dir.local:9000\n"), 0o600))

	t.Setenv("PEERCHAT_PEER_DIAL_TIMEOUT", "2s")
	t.Setenv("PEERCHAT_STORAGE_DRIVER", "badger")

	cfg, _, err := Load(nil, path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "http://dir.local:9000", cfg.Peer.DirectoryURL)
	require.Equal(t, 2*time.Second, cfg.Peer.DialTimeout)
	require.Equal(t, DriverBadger, cfg.Storage.Driver)
	// Untouched keys keep their defaults.
	require.Equal(t, Default().Peer.EventBuffer, cfg.Peer.EventBuffer)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peerchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: postgres\n"), 0o600))

	_, _, err := Load(nil, path)
	require.Error(t, err)
}

func TestUpdateFromKeepsZeroValues(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Peer: PeerConfig{DirectoryURL: "http://other:1"}})

	require.Equal(t, "http://other:1", cfg.Peer.DirectoryURL)
	require.Equal(t, Default().Peer.ListenAddr, cfg.Peer.ListenAddr)
	require.Equal(t, Default().LogLevel, cfg.LogLevel)
}
