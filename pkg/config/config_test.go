package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHeartbeatSec, cfg.HeartbeatSec)
	assert.Equal(t, DefaultMaxReconnects, cfg.MaxReconnects)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 60*time.Minute, cfg.HistoryRetention())
	assert.Equal(t, 5*time.Minute, cfg.OfflineRetry())
	assert.NotEmpty(t, cfg.IdentityPath)
	assert.Error(t, Validate(cfg)) // coordinator missing
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	body := "coordinator: http://file.example:8080\nheartbeat_sec: 10\ndata_dir: /var/lib/meshnode\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("MESHNODE_COORDINATOR", "http://env.example:9090")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env.example:9090", cfg.Coordinator) // env beats file
	assert.Equal(t, 10, cfg.HeartbeatSec)                       // file beats default
	assert.Equal(t, "/var/lib/meshnode/identity.json", cfg.IdentityPath)
	assert.NoError(t, Validate(cfg))
}

func TestLoadRejectsMalformedYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n\t- nope"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
