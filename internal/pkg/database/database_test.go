package database

import (
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "default config",
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name: "missing host",
			config: &Config{
				Host:     "",
				Port:     5432,
				User:     "user",
				DBName:   "test",
				SSLMode:  "disable",
				LogLevel: "warn",
			},
			wantErr: true,
		},
		{
			name: "invalid port",
			config: &Config{
				Host:     "localhost",
				Port:     0,
				User:     "user",
				DBName:   "test",
				SSLMode:  "disable",
				LogLevel: "warn",
			},
			wantErr: true,
		},
		{
			name: "invalid SSL mode",
			config: &Config{
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				DBName:   "test",
				SSLMode:  "invalid",
				LogLevel: "warn",
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			config: &Config{
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				DBName:   "test",
				SSLMode:  "disable",
				LogLevel: "invalid",
			},
			wantErr: true,
		},
		{
			name: "invalid connection pool",
			config: &Config{
				Host:         "localhost",
				Port:         5432,
				User:         "user",
				DBName:       "test",
				SSLMode:      "disable",
				LogLevel:     "warn",
				MaxIdleConns: 100,
				MaxOpenConns: 10,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsRecordNotFoundError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "record not found",
			err:  gorm.ErrRecordNotFound,
			want: true,
		},
		{
			name: "unrelated error",
			err:  errors.New("connection refused"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecordNotFoundError(tt.err); got != tt.want {
				t.Errorf("IsRecordNotFoundError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := &Config{
		Host:                 "localhost",
		Port:                 5432,
		User:                 "testuser",
		Password:             "testpass",
		DBName:               "testdb",
		SSLMode:              "disable",
		Timezone:             "UTC",
		PreferSimpleProtocol: true,
	}

	dsn := cfg.DSN()
	if dsn == "" {
		t.Error("DSN is empty")
	}

	// Check if DSN contains expected parts
	expectedParts := []string{"host=", "user=", "password=", "dbname=", "sslmode=", "TimeZone="}
	for _, part := range expectedParts {
		if !strings.Contains(dsn, part) {
			t.Errorf("DSN missing expected part: %s", part)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "localhost" {
		t.Errorf("DefaultConfig.Host = %v, want localhost", cfg.Host)
	}
	if cfg.Port != 5432 {
		t.Errorf("DefaultConfig.Port = %v, want 5432", cfg.Port)
	}
	if cfg.MaxIdleConns != 10 {
		t.Errorf("DefaultConfig.MaxIdleConns = %v, want 10", cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns != 100 {
		t.Errorf("DefaultConfig.MaxOpenConns = %v, want 100", cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime != time.Hour {
		t.Errorf("DefaultConfig.ConnMaxLifetime = %v, want %v", cfg.ConnMaxLifetime, time.Hour)
	}
}
