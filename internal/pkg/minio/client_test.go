package minio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *Config {
	return &Config{
		Endpoint:        "localhost:9000",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"minimal valid", func(c *Config) {}, false},
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }, true},
		{"missing access key", func(c *Config) { c.AccessKeyID = "" }, true},
		{"missing secret key", func(c *Config) { c.SecretAccessKey = "" }, true},
		{"bad bucket lookup", func(c *Config) { c.BucketLookup = "invalid" }, true},
		{"path bucket lookup", func(c *Config) { c.BucketLookup = BucketLookupPath }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigSetDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.SetDefaults()
	assert.Equal(t, BucketLookupAuto, cfg.BucketLookup)

	cfg.BucketLookup = BucketLookupDNS
	cfg.SetDefaults()
	assert.Equal(t, BucketLookupDNS, cfg.BucketLookup)
}

func TestNewClientRejectsBadConfig(t *testing.T) {
	_, err := NewClient(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewClient(&Config{Endpoint: "localhost:9000"}, zap.NewNop())
	assert.Error(t, err)
}

func TestClientCloseGuardsOperations(t *testing.T) {
	client, err := NewClient(testConfig(), zap.NewNop())
	require.NoError(t, err)
	require.False(t, client.IsClosed())

	require.NoError(t, client.Close())
	assert.True(t, client.IsClosed())
	// 重复关闭不报错
	require.NoError(t, client.Close())

	ctx := context.Background()
	assert.Error(t, client.Ping(ctx))
	_, err = client.BucketExists(ctx, "media")
	assert.Error(t, err)
	_, err = client.FPutObject(ctx, "media", "a.txt", "/tmp/a.txt", PutObjectOptions{})
	assert.Error(t, err)
	assert.Error(t, client.RemoveObject(ctx, "media", "a.txt", RemoveObjectOptions{}))
}

func TestValidationBeforeNetwork(t *testing.T) {
	client, err := NewClient(testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	// 参数校验在任何网络调用之前失败
	assert.Error(t, client.MakeBucket(ctx, "", MakeBucketOptions{}))
	_, err = client.GetObject(ctx, "", "a.txt", GetObjectOptions{})
	assert.Error(t, err)
	_, err = client.GetObject(ctx, "media", "", GetObjectOptions{})
	assert.Error(t, err)
	_, err = client.FPutObject(ctx, "media", "a.txt", "", PutObjectOptions{})
	assert.Error(t, err)
	_, err = client.CopyObject(ctx, CopyDestOptions{}, CopySrcOptions{})
	assert.Error(t, err)
}

func TestErrorWrappingAndClassifiers(t *testing.T) {
	err := WrapError("GetObject", ErrObjectNotFound, "media", "a.txt")
	assert.Contains(t, err.Error(), "GetObject")
	assert.Contains(t, err.Error(), "media")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsBucketAlreadyExists(err))

	err = WrapError("MakeBucket", ErrBucketAlreadyOwnedByYou, "media", "")
	assert.True(t, IsBucketAlreadyExists(err))

	assert.False(t, IsNotFound(nil))
	assert.Nil(t, WrapError("GetObject", nil, "media", "a.txt"))
}
