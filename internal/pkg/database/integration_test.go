//go:build integration

package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rdm-platform/rdm-backend/internal/pkg/logger"
	"gorm.io/gorm"
)

// testRecord is a throwaway model for the integration suite
type testRecord struct {
	ID        uint           `gorm:"primarykey"`
	Name      string         `gorm:"size:100;not null"`
	Email     string         `gorm:"size:255;uniqueIndex;not null"`
	CreatedAt time.Time      `gorm:"autoCreateTime"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (testRecord) TableName() string {
	return "test_records"
}

// setupTestDB creates a test database connection
func setupTestDB(t *testing.T) (*DB, func()) {
	// 从环境变量读取配置，如果没有则使用 docker-compose 默认值
	host := getEnv("TEST_DB_HOST", "localhost")
	user := getEnv("TEST_DB_USER", "postgres")
	password := getEnv("TEST_DB_PASSWORD", "postgres")
	dbname := getEnv("TEST_DB_NAME", "rdm")

	cfg := &Config{
		Host:     host,
		Port:     5432,
		User:     user,
		Password: password,
		DBName:   dbname,
		SSLMode:  "disable",

		MaxIdleConns:    5,
		MaxOpenConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,

		LogLevel:      "info",
		SlowThreshold: 200 * time.Millisecond,
		PrepareStmt:   true,
		AutoMigrate:   true,

		Timezone: "UTC",
	}

	log, err := logger.New(&logger.Config{
		Level:  "debug",
		Format: "console",
		Output: "console",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	db, err := New(cfg, log)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&testRecord{}); err != nil {
		t.Fatalf("failed to migrate test table: %v", err)
	}

	cleanup := func() {
		db.GetDB().Exec("DROP TABLE IF EXISTS test_records")
		db.Close()
	}

	return db, cleanup
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestDatabaseConnection(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	rec := &testRecord{Name: "alice", Email: "alice@example.org"}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var loaded testRecord
	err := db.WithContext(ctx).First(&loaded, rec.ID).Error
	if err != nil {
		t.Fatalf("first failed: %v", err)
	}
	if loaded.Email != "alice@example.org" {
		t.Errorf("loaded email = %q, want alice@example.org", loaded.Email)
	}

	err = db.WithContext(ctx).First(&testRecord{}, 999999).Error
	if !IsRecordNotFoundError(err) {
		t.Errorf("expected record-not-found, got %v", err)
	}
}

func TestTransactionRollback(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	// 事务内报错应整体回滚
	err := db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Create(&testRecord{Name: "bob", Email: "bob@example.org"}).Error; err != nil {
			return err
		}
		return gorm.ErrInvalidTransaction
	})
	if err == nil {
		t.Fatal("expected transaction to fail")
	}

	var count int64
	db.WithContext(ctx).Model(&testRecord{}).Where("email = ?", "bob@example.org").Count(&count)
	if count != 0 {
		t.Errorf("rolled-back row persisted, count = %d", count)
	}

	// 正常事务提交
	err = db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		return tx.Create(&testRecord{Name: "carol", Email: "carol@example.org"}).Error
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	db.WithContext(ctx).Model(&testRecord{}).Where("email = ?", "carol@example.org").Count(&count)
	if count != 1 {
		t.Errorf("committed row missing, count = %d", count)
	}
}
