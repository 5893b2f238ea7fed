package common

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, 4, config.Downloads.Concurrency)
	assert.True(t, config.Providers.Dropbox.RefreshOnPermissionDenied)
	assert.False(t, config.Providers.Imou.RefreshOnPermissionDenied)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camsync.toml")
	content := `
environment = "production"

[storage]
video_dir = "/srv/videos"

[storage.badger]
path = "/srv/camsync/db"

[downloads]
concurrency = 8

[providers.dropbox]
client_id = "abc"
rate_limit = 20

[[sources]]
id = "warehouse"
provider = "dropbox"
account_key = "dbid:123"
containers = ["/cams/warehouse"]
schedule = "*/15 * * * *"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, "/srv/videos", config.Storage.VideoDir)
	assert.Equal(t, 8, config.Downloads.Concurrency)
	assert.Equal(t, 20, config.Providers.Dropbox.RateLimit)
	// Defaults survive partial files
	assert.Equal(t, 3, config.Downloads.MaxAttempts)
	assert.Equal(t, 10*time.Minute, config.OAuth.SessionTTL)

	require.Len(t, config.Sources, 1)
	assert.Equal(t, "warehouse", config.Sources[0].ID)
	assert.Equal(t, []string{"/cams/warehouse"}, config.Sources[0].Containers)
}

func TestLoadConfigRejectsBadProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camsync.toml")
	content := `
[storage]
video_dir = "/srv/videos"

[storage.badger]
path = "/srv/db"

[[sources]]
id = "x"
provider = "gopro"
account_key = "k"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CAMSYNC_VIDEO_DIR", "/override/videos")
	t.Setenv("CAMSYNC_DROPBOX_CLIENT_SECRET", "from-env")

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/override/videos", config.Storage.VideoDir)
	assert.Equal(t, "from-env", config.Providers.Dropbox.ClientSecret)
}

func TestMasterKeyHex(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	t.Setenv(MasterKeyEnv, hex.EncodeToString(raw))

	key, err := MasterKey()
	require.NoError(t, err)
	assert.Equal(t, raw, key)
}

func TestMasterKeyPassphrase(t *testing.T) {
	t.Setenv(MasterKeyEnv, "correct horse battery staple")

	key, err := MasterKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	// Deterministic for the same passphrase
	again, err := MasterKey()
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestMasterKeyMissing(t *testing.T) {
	t.Setenv(MasterKeyEnv, "")
	_, err := MasterKey()
	require.Error(t, err)
}
