package data

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/conf"
	"github.com/rdm-platform/rdm-backend/internal/pkg/database"
	"github.com/rdm-platform/rdm-backend/internal/pkg/logger"
	"github.com/rdm-platform/rdm-backend/internal/pkg/minio"
	"github.com/rdm-platform/rdm-backend/internal/pkg/redis"
)

// Data 汇聚全部外部数据源客户端
type Data struct {
	DB    *database.DB
	Redis *redis.Client
	Minio *minio.Client
}

// NewData 初始化数据库、Redis 与对象存储客户端,返回统一的清理函数。
// MinIO 未配置 endpoint 时跳过,本地/挂载存储部署不依赖对象存储
func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	dbCfg := database.DefaultConfig()
	dbCfg.Host = config.Database.Host
	dbCfg.Port = config.Database.Port
	dbCfg.User = config.Database.User
	dbCfg.Password = config.Database.Password
	dbCfg.DBName = config.Database.DBName
	dbCfg.SSLMode = config.Database.SSLMode

	db, err := database.New(dbCfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init database: %w", err)
	}

	redisCfg := redis.DefaultConfig()
	redisCfg.MasterAddr = fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port)
	redisCfg.Password = config.Redis.Password
	redisCfg.DB = config.Redis.DB

	redisClient, err := redis.New(redisCfg, log)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to init redis: %w", err)
	}
	if err := redisClient.Ping(context.Background()); err != nil {
		db.Close()
		redisClient.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var minioClient *minio.Client
	if config.MinIO.Endpoint != "" {
		minioClient, err = minio.NewClient(&minio.Config{
			Endpoint:        config.MinIO.Endpoint,
			AccessKeyID:     config.MinIO.AccessKey,
			SecretAccessKey: config.MinIO.SecretKey,
			UseSSL:          config.MinIO.UseSSL,
		}, log.Logger)
		if err != nil {
			db.Close()
			redisClient.Close()
			return nil, nil, fmt.Errorf("failed to init minio: %w", err)
		}
		if err := minioClient.EnsureBucket(context.Background(), config.MinIO.Bucket); err != nil {
			db.Close()
			redisClient.Close()
			minioClient.Close()
			return nil, nil, fmt.Errorf("failed to ensure minio bucket: %w", err)
		}
	}

	d := &Data{
		DB:    db,
		Redis: redisClient,
		Minio: minioClient,
	}

	cleanup := func() {
		if err := redisClient.Close(); err != nil {
			log.Error("failed to close redis client", zap.Error(err))
		}
		if minioClient != nil {
			if err := minioClient.Close(); err != nil {
				log.Error("failed to close minio client", zap.Error(err))
			}
		}
		if err := db.Close(); err != nil {
			log.Error("failed to close database", zap.Error(err))
		}
	}

	return d, cleanup, nil
}
