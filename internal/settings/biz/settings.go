package biz

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/core"
)

// 运行时配置键
const (
	KeyMaxLockTime           = "MAX_LOCK_TIME"
	KeyPrivateStorageEnabled = "PRIVATE_STORAGE_ENABLED"
)

// Setting 运行时配置项
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// SettingRepo 配置仓储接口
type SettingRepo interface {
	Get(ctx context.Context, key string) (*Setting, error)
	Set(ctx context.Context, key, value string) error
}

// SettingUseCase 运行时配置用例,读取失败时回退到静态默认值
type SettingUseCase struct {
	repo   SettingRepo
	logger *zap.Logger
}

// NewSettingUseCase 创建配置用例
func NewSettingUseCase(repo SettingRepo, logger *zap.Logger) *SettingUseCase {
	return &SettingUseCase{repo: repo, logger: logger}
}

// GetString 读取字符串配置,缺失或出错时返回 fallback
func (uc *SettingUseCase) GetString(ctx context.Context, key, fallback string) string {
	s, err := uc.repo.Get(ctx, key)
	if err != nil || s == nil {
		return fallback
	}
	return s.Value
}

// GetInt 读取整数配置,解析失败时返回 fallback
func (uc *SettingUseCase) GetInt(ctx context.Context, key string, fallback int) int {
	s, err := uc.repo.Get(ctx, key)
	if err != nil || s == nil {
		return fallback
	}
	n, err := strconv.Atoi(s.Value)
	if err != nil {
		uc.logger.Warn("setting is not an integer, using fallback",
			zap.String("key", key),
			zap.String("value", s.Value))
		return fallback
	}
	return n
}

// GetBool 读取布尔配置,解析失败时返回 fallback
func (uc *SettingUseCase) GetBool(ctx context.Context, key string, fallback bool) bool {
	s, err := uc.repo.Get(ctx, key)
	if err != nil || s == nil {
		return fallback
	}
	b, err := strconv.ParseBool(s.Value)
	if err != nil {
		return fallback
	}
	return b
}

// Set 写入配置
func (uc *SettingUseCase) Set(ctx context.Context, key, value string) error {
	return uc.repo.Set(ctx, key, value)
}

// MaxLockTime 编辑锁有效期,允许配置为 0 表示锁立即过期
func (uc *SettingUseCase) MaxLockTime(ctx context.Context) time.Duration {
	minutes := uc.GetInt(ctx, KeyMaxLockTime, core.DefaultMaxLockMinutes)
	if minutes < 0 {
		minutes = core.DefaultMaxLockMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// PrivateStorageEnabled 私有挂载存储功能开关
func (uc *SettingUseCase) PrivateStorageEnabled(ctx context.Context) bool {
	return uc.GetBool(ctx, KeyPrivateStorageEnabled, true)
}
