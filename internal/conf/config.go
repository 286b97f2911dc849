package conf

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	MinIO    MinIOConfig
	Log      LogConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Tasks    TasksConfig
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// EventChannel is the pub/sub channel realtime events are published to.
	EventChannel string `mapstructure:"event_channel"`
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type LogConfig struct {
	Level            string        `mapstructure:"level"`
	Format           string        `mapstructure:"format"`
	Output           string        `mapstructure:"output"`
	File             FileLogConfig `mapstructure:"file"`
	EnableCaller     bool          `mapstructure:"enablecaller"`
	EnableStacktrace bool          `mapstructure:"enablestacktrace"`
}

type FileLogConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"maxsize"`
	MaxAge     int    `mapstructure:"maxage"`
	MaxBackups int    `mapstructure:"maxbackups"`
	Compress   bool   `mapstructure:"compress"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

// StorageConfig covers the filesystem and mount layout storage backends work
// against. PathSecret is the key used to decrypt private mount sub-paths.
type StorageConfig struct {
	MediaRoot   string `mapstructure:"media_root"`
	MountRoot   string `mapstructure:"mount_root"`
	LocalPrefix string `mapstructure:"local_prefix"`
	PathSecret  string `mapstructure:"path_secret"`
	// DevMode skips mount probing when the mount root equals the media root.
	DevMode bool `mapstructure:"dev_mode"`
}

// TasksConfig holds the cron specs for the background jobs.
type TasksConfig struct {
	MoveFilesSpec       string `mapstructure:"move_files_spec"`
	CompletenessSpec    string `mapstructure:"completeness_spec"`
	LockSweepSpec       string `mapstructure:"lock_sweep_spec"`
	DraftSweepSpec      string `mapstructure:"draft_sweep_spec"`
	MountProbeSpec      string `mapstructure:"mount_probe_spec"`
	ParserSpec          string `mapstructure:"parser_spec"`
	ParserBatchSize     int    `mapstructure:"parser_batch_size"`
	DraftExpiryDays     int    `mapstructure:"draft_expiry_days"`
	MaxLockTimeMinutes  int    `mapstructure:"max_lock_time_minutes"`
	MountProbeRetries   int    `mapstructure:"mount_probe_retries"`
	MountProbeBackoffMS int    `mapstructure:"mount_probe_backoff_ms"`
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(c *Config) {
	if c.Redis.EventChannel == "" {
		c.Redis.EventChannel = "rdm:events"
	}
	if c.Storage.LocalPrefix == "" {
		c.Storage.LocalPrefix = "local"
	}
	if c.Tasks.MoveFilesSpec == "" {
		c.Tasks.MoveFilesSpec = "@every 1m"
	}
	if c.Tasks.CompletenessSpec == "" {
		c.Tasks.CompletenessSpec = "@every 1m"
	}
	if c.Tasks.LockSweepSpec == "" {
		c.Tasks.LockSweepSpec = "@every 1m"
	}
	if c.Tasks.DraftSweepSpec == "" {
		c.Tasks.DraftSweepSpec = "@daily"
	}
	if c.Tasks.MountProbeSpec == "" {
		c.Tasks.MountProbeSpec = "@every 5m"
	}
	if c.Tasks.ParserSpec == "" {
		c.Tasks.ParserSpec = "@every 1m"
	}
	if c.Tasks.ParserBatchSize <= 0 {
		c.Tasks.ParserBatchSize = 20
	}
	if c.Tasks.DraftExpiryDays <= 0 {
		c.Tasks.DraftExpiryDays = 30
	}
	if c.Tasks.MaxLockTimeMinutes <= 0 {
		c.Tasks.MaxLockTimeMinutes = 20
	}
	if c.Tasks.MountProbeRetries <= 0 {
		c.Tasks.MountProbeRetries = 3
	}
	if c.Tasks.MountProbeBackoffMS <= 0 {
		c.Tasks.MountProbeBackoffMS = 2000
	}
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
