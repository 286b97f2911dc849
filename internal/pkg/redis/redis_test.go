package redis

import (
	"context"
	"testing"
	"time"

	"github.com/rdm-platform/rdm-backend/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	log, err := logger.New(&logger.Config{
		Level:  "debug",
		Format: "json",
		Output: "console",
	})
	require.NoError(t, err)
	return log
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid single mode",
			mutate: func(c *Config) {},
		},
		{
			name: "valid sentinel mode",
			mutate: func(c *Config) {
				c.Mode = ModeSentinel
				c.SentinelAddrs = []string{"localhost:26379"}
				c.MasterName = "mymaster"
			},
		},
		{
			name:    "missing master addr",
			mutate:  func(c *Config) { c.MasterAddr = "" },
			wantErr: "master_addr",
		},
		{
			name: "sentinel without addrs",
			mutate: func(c *Config) {
				c.Mode = ModeSentinel
				c.MasterName = "mymaster"
			},
			wantErr: "sentinel_addrs",
		},
		{
			name: "sentinel without master name",
			mutate: func(c *Config) {
				c.Mode = ModeSentinel
				c.SentinelAddrs = []string{"localhost:26379"}
			},
			wantErr: "master_name",
		},
		{
			name:    "unsupported mode",
			mutate:  func(c *Config) { c.Mode = "cluster" },
			wantErr: "invalid mode",
		},
		{
			name:    "db out of range",
			mutate:  func(c *Config) { c.DB = 16 },
			wantErr: "db must be",
		},
		{
			name:    "zero pool size",
			mutate:  func(c *Config) { c.PoolSize = 0 },
			wantErr: "pool_size",
		},
		{
			name: "idle conns exceed pool",
			mutate: func(c *Config) {
				c.PoolSize = 2
				c.MinIdleConns = 5
			},
			wantErr: "min_idle_conns",
		},
		{
			name: "retry backoff inverted",
			mutate: func(c *Config) {
				c.MinRetryBackoff = time.Second
				c.MaxRetryBackoff = time.Millisecond
			},
			wantErr: "min_retry_backoff",
		},
		{
			name: "tls without material",
			mutate: func(c *Config) {
				c.EnableTLS = true
			},
			wantErr: "TLS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ModeSingle, cfg.Mode)
	assert.Equal(t, "localhost:6379", cfg.MasterAddr)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	log := testLogger(t)

	client, err := New(&Config{Mode: ModeSingle}, log)
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestPingBeforeInit(t *testing.T) {
	c := &Client{config: DefaultConfig(), logger: testLogger(t)}

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestCloseWithoutClient(t *testing.T) {
	c := &Client{config: DefaultConfig(), logger: testLogger(t)}
	assert.NoError(t, c.Close())
}

func TestErrorClassifiers(t *testing.T) {
	assert.True(t, IsNil(redis.Nil))
	assert.False(t, IsNil(ErrClosed))

	assert.True(t, IsClosed(ErrClosed))
	assert.True(t, IsClosed(redis.ErrClosed))
	assert.False(t, IsClosed(redis.Nil))

	assert.True(t, IsPoolTimeout(ErrPoolTimeout))
	assert.False(t, IsPoolTimeout(ErrClosed))
}
