package data

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/rdm-platform/rdm-backend/internal/pkg/database"
	"github.com/rdm-platform/rdm-backend/internal/settings/biz"
)

// SettingPO 运行时配置数据库模型
type SettingPO struct {
	Key       string    `gorm:"column:key;size:100;primarykey"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (SettingPO) TableName() string {
	return "app_settings"
}

// SettingRepo 配置仓储实现
type SettingRepo struct {
	db *database.DB
}

// NewSettingRepo 创建配置仓储
func NewSettingRepo(db *database.DB) *SettingRepo {
	return &SettingRepo{db: db}
}

// Get 读取配置,不存在时返回 nil
func (r *SettingRepo) Get(ctx context.Context, key string) (*biz.Setting, error) {
	var po SettingPO
	err := r.db.WithContext(ctx).GetDB().Where("key = ?", key).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}

	return &biz.Setting{Key: po.Key, Value: po.Value, UpdatedAt: po.UpdatedAt}, nil
}

// Set 写入配置,存在时覆盖
func (r *SettingRepo) Set(ctx context.Context, key, value string) error {
	po := &SettingPO{Key: key, Value: value, UpdatedAt: time.Now()}
	err := r.db.WithContext(ctx).GetDB().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(po).Error
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}
