package redis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/rdm-platform/rdm-backend/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client Redis 客户端封装
type Client struct {
	config *Config
	logger *logger.Logger

	master redis.UniversalClient
}

// New 创建 Redis 客户端
func New(cfg *Config, log *logger.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := &Client{
		config: cfg,
		logger: log,
	}

	// 根据模式创建客户端
	switch cfg.Mode {
	case ModeSingle:
		if err := client.initSingleMode(); err != nil {
			return nil, err
		}
	case ModeSentinel:
		if err := client.initSentinelMode(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported mode: %s", cfg.Mode)
	}

	// 健康检查
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	client.logger.Info("redis client initialized successfully",
		zap.String("mode", string(cfg.Mode)),
		zap.String("master_addr", cfg.MasterAddr),
	)

	return client, nil
}

// initSingleMode 初始化单机模式
func (c *Client) initSingleMode() error {
	opts := &redis.Options{
		Addr:     c.config.MasterAddr,
		Username: c.config.Username,
		Password: c.config.Password,
		DB:       c.config.DB,

		PoolSize:     c.config.PoolSize,
		MinIdleConns: c.config.MinIdleConns,

		DialTimeout:  c.config.DialTimeout,
		ReadTimeout:  c.config.ReadTimeout,
		WriteTimeout: c.config.WriteTimeout,
		PoolTimeout:  c.config.PoolTimeout,

		MaxRetries:      c.config.MaxRetries,
		MinRetryBackoff: c.config.MinRetryBackoff,
		MaxRetryBackoff: c.config.MaxRetryBackoff,

		PoolFIFO:        c.config.PoolFIFO,
		ConnMaxIdleTime: c.config.ConnMaxIdleTime,
		ConnMaxLifetime: c.config.ConnMaxLifetime,
	}

	// 配置TLS
	if c.config.EnableTLS {
		tlsConfig, err := c.loadTLSConfig()
		if err != nil {
			return err
		}
		opts.TLSConfig = tlsConfig
	}

	c.master = redis.NewClient(opts)
	return nil
}

// initSentinelMode 初始化哨兵模式
func (c *Client) initSentinelMode() error {
	opts := &redis.FailoverOptions{
		MasterName:    c.config.MasterName,
		SentinelAddrs: c.config.SentinelAddrs,
		Username:      c.config.Username,
		Password:      c.config.Password,
		DB:            c.config.DB,

		PoolSize:     c.config.PoolSize,
		MinIdleConns: c.config.MinIdleConns,

		DialTimeout:  c.config.DialTimeout,
		ReadTimeout:  c.config.ReadTimeout,
		WriteTimeout: c.config.WriteTimeout,
		PoolTimeout:  c.config.PoolTimeout,

		MaxRetries:      c.config.MaxRetries,
		MinRetryBackoff: c.config.MinRetryBackoff,
		MaxRetryBackoff: c.config.MaxRetryBackoff,

		PoolFIFO:        c.config.PoolFIFO,
		ConnMaxIdleTime: c.config.ConnMaxIdleTime,
		ConnMaxLifetime: c.config.ConnMaxLifetime,
	}

	// 配置TLS
	if c.config.EnableTLS {
		tlsConfig, err := c.loadTLSConfig()
		if err != nil {
			return err
		}
		opts.TLSConfig = tlsConfig
	}

	c.master = redis.NewFailoverClient(opts)
	return nil
}

// loadTLSConfig 加载TLS配置
func (c *Client) loadTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.config.TLSSkipVerify,
		ServerName:         c.config.TLSServerName,
	}

	// 加载客户端证书
	if c.config.TLSCertFile != "" && c.config.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.config.TLSCertFile, c.config.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert failed: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	// 加载CA证书
	if c.config.TLSCAFile != "" {
		caCert, err := os.ReadFile(c.config.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file failed: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("append CA cert failed")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}

// Ping 健康检查
func (c *Client) Ping(ctx context.Context) error {
	if c.master == nil {
		return ErrNotInitialized
	}

	if err := c.master.Ping(ctx).Err(); err != nil {
		c.logger.Error("redis master ping failed", zap.Error(err))
		return err
	}

	return nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	if c.master != nil {
		if err := c.master.Close(); err != nil {
			c.logger.Error("close master client failed", zap.Error(err))
			return err
		}
	}

	c.logger.Info("redis client closed")
	return nil
}
