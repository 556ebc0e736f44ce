package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitas-games/forge/internal/synth"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("jwt:\n  public_key_path: key.pem\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 24, cfg.JWT.PublicKeyRefreshHrs)
	assert.Equal(t, int64(1), cfg.JWT.AdminPermission)
	assert.Equal(t, BackendMemory, cfg.Ledger.Backend)
	assert.Equal(t, 8, cfg.Ledger.RedisRetries)
	assert.Equal(t, 5*time.Second, cfg.Crafting.SynthesisTimeout)
	assert.Equal(t, 10*time.Second, cfg.Crafting.CompensationTimeout)
	require.NotNil(t, cfg.Crafting.Scaling)
	assert.Equal(t, synth.DefaultScaling(), *cfg.Crafting.Scaling)
	assert.Equal(t, "crafts", cfg.Journal.Prefix)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestParseKeepsExplicitValues(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  port: 9090
jwt:
  public_key_url: http://auth/key.pem
redis:
  address: localhost:6379
ledger:
  backend: redis
crafting:
  synthesis_timeout: 250ms
  scaling:
    attack: 3
`))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, BackendRedis, cfg.Ledger.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Crafting.SynthesisTimeout)
	assert.Equal(t, synth.Scaling{Attack: 3}, *cfg.Crafting.Scaling)
}

func TestValidate(t *testing.T) {
	_, err := Parse([]byte("jwt:\n  public_key_path: k\nledger:\n  backend: mongo\n"))
	assert.ErrorContains(t, err, "unknown ledger backend")

	_, err = Parse([]byte("jwt:\n  public_key_path: k\nledger:\n  backend: redis\n"))
	assert.ErrorContains(t, err, "redis.address")

	_, err = Parse([]byte("server:\n  port: 80\n"))
	assert.ErrorContains(t, err, "jwt.public_key")
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "server.yaml"))
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Ledger.Backend)
	assert.True(t, cfg.Catalog.Enforce)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
