package redom

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redisAddr: localhost:6379
redisPassword: secret
redisDB: 2
keyPrefix: myapp
idempotencyTTL: 300
strictVersionConflicts: true
`), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", config.RedisAddr)
	assert.Equal(t, "secret", config.RedisPassword)
	assert.Equal(t, 2, config.RedisDB)
	assert.Equal(t, "myapp", config.KeyPrefix)
	assert.Equal(t, 300, config.IdempotencyTTL)
	assert.True(t, config.StrictVersionConflicts)
}

func TestLoadConfigDefaultsPrefix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redisAddr: localhost:6379\n"), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "redom", config.KeyPrefix)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestClientIdempotencyTTLResolution(t *testing.T) {
	client := NewClient(nil, "snug")

	assert.Nil(t, client.idempotencyTTL("", nil))

	resolved := client.idempotencyTTL("k", nil)
	require.NotNil(t, resolved)
	assert.Equal(t, int64(DefaultIdempotencyTTLSeconds), *resolved)

	zero := int64(0)
	resolved = client.idempotencyTTL("k", &zero)
	require.NotNil(t, resolved)
	assert.Equal(t, int64(0), *resolved)

	client = NewClient(nil, "snug", WithIdempotencyTTL(60))
	resolved = client.idempotencyTTL("k", nil)
	require.NotNil(t, resolved)
	assert.Equal(t, int64(60), *resolved)
}
