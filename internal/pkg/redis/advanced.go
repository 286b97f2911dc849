package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ==================== Pub/Sub Operations ====================

// Publish 发布消息
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) (int64, error) {
	n, err := c.master.Publish(ctx, channel, message).Result()
	if err != nil {
		c.logger.Error("redis publish failed",
			zap.String("channel", channel),
			zap.Error(err),
		)
	} else {
		c.logger.Debug("redis message published",
			zap.String("channel", channel),
			zap.Int64("receivers", n),
		)
	}
	return n, err
}

// Subscribe 订阅频道
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	pubsub := c.master.Subscribe(ctx, channels...)
	c.logger.Info("redis subscribed to channels", zap.Strings("channels", channels))
	return pubsub
}

// ==================== Lua Script Operations ====================

// Eval 执行 Lua 脚本
func (c *Client) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	result, err := c.master.Eval(ctx, script, keys, args...).Result()
	if err != nil {
		c.logger.Error("redis eval failed",
			zap.String("script", script),
			zap.Strings("keys", keys),
			zap.Error(err),
		)
	}
	return result, err
}

// ==================== Distributed Lock ====================

// Lock 获取分布式锁
func (c *Client) Lock(ctx context.Context, key string, expiration time.Duration) (string, error) {
	// 生成唯一标识
	token := uuid.New().String()

	// 使用 SetNX 获取锁
	ok, err := c.master.SetNX(ctx, key, token, expiration).Result()
	if err != nil {
		c.logger.Error("redis lock failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return "", err
	}

	if !ok {
		return "", fmt.Errorf("failed to acquire lock: %s", key)
	}

	c.logger.Debug("redis lock acquired",
		zap.String("key", key),
		zap.String("token", token),
		zap.Duration("expiration", expiration),
	)

	return token, nil
}

// Unlock 释放分布式锁（使用 Lua 脚本保证原子性）
func (c *Client) Unlock(ctx context.Context, key, token string) error {
	// Lua 脚本：只有当锁的值等于 token 时才删除
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	result, err := c.master.Eval(ctx, script, []string{key}, token).Result()
	if err != nil {
		c.logger.Error("redis unlock failed",
			zap.String("key", key),
			zap.String("token", token),
			zap.Error(err),
		)
		return err
	}

	if result.(int64) == 0 {
		return fmt.Errorf("failed to release lock: token mismatch or lock expired")
	}

	c.logger.Debug("redis lock released",
		zap.String("key", key),
		zap.String("token", token),
	)

	return nil
}

// WithLock 在锁保护下执行函数
func (c *Client) WithLock(ctx context.Context, key string, expiration time.Duration, fn func() error) error {
	token, err := c.Lock(ctx, key, expiration)
	if err != nil {
		return err
	}

	defer func() {
		if err := c.Unlock(ctx, key, token); err != nil {
			c.logger.Error("failed to unlock",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}()

	return fn()
}
