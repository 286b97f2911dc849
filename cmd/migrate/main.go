package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	approvaldata "github.com/rdm-platform/rdm-backend/internal/approval/data"
	"github.com/rdm-platform/rdm-backend/internal/conf"
	"github.com/rdm-platform/rdm-backend/internal/data"
	fileparserdata "github.com/rdm-platform/rdm-backend/internal/fileparser/data"
	foldersdata "github.com/rdm-platform/rdm-backend/internal/folders/data"
	metadatadata "github.com/rdm-platform/rdm-backend/internal/metadata/data"
	"github.com/rdm-platform/rdm-backend/internal/pkg/logger"
	projectsdata "github.com/rdm-platform/rdm-backend/internal/projects/data"
	settingsdata "github.com/rdm-platform/rdm-backend/internal/settings/data"
	storagesdata "github.com/rdm-platform/rdm-backend/internal/storages/data"
	uploadsdata "github.com/rdm-platform/rdm-backend/internal/uploads/data"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

// 数据库表结构同步工具。按模型定义创建缺失的表和索引,
// 已有数据不受影响
func main() {
	flag.Parse()

	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logger.New(&logger.Config{Level: "info", Format: "console", Output: "stdout"})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer lg.Sync()

	d, cleanup, err := data.NewData(config, lg)
	if err != nil {
		lg.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	models := []interface{}{
		&settingsdata.SettingPO{},
		&storagesdata.StoragePO{},
		&approvaldata.ItemPO{},
		&projectsdata.ProjectPO{},
		&foldersdata.FolderPO{},
		&metadatadata.FieldPO{},
		&metadatadata.MetadataPO{},
		&metadatadata.TemplatePO{},
		&metadatadata.TemplateFieldPO{},
		&metadatadata.TemplateVersionPO{},
		&uploadsdata.DatasetPO{},
		&uploadsdata.VersionPO{},
		&uploadsdata.VersionFilePO{},
		&fileparserdata.TaskPO{},
	}

	if err := d.DB.AutoMigrate(models...); err != nil {
		lg.Fatal("failed to migrate schema", zap.Error(err))
	}

	lg.Info("schema migrated", zap.Int("models", len(models)))
}
