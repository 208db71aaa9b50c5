package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"ENV" default:"development"`

	HTTPPort    int           `envconfig:"HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`

	WorkerPoolSize  int           `envconfig:"WORKER_POOL_SIZE" default:"5"`
	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"30m"`
	MaxFileSize     int64         `envconfig:"MAX_FILE_SIZE" default:"104857600"`
	TransferRetries int           `envconfig:"TRANSFER_RETRIES" default:"3"`

	StorageDir string `envconfig:"STORAGE_DIR" default:"./storage"`

	// MaxTasks bounds the registry; 0 disables eviction.
	MaxTasks       int           `envconfig:"MAX_TASKS" default:"500"`
	NotifyInterval time.Duration `envconfig:"NOTIFY_INTERVAL" default:"100ms"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// IsDevelopment reports whether misuse of the registry should fail fast
// instead of being clamped.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive: %d", c.WorkerPoolSize)
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive: %d", c.MaxFileSize)
	}

	if c.TransferRetries < 0 {
		return fmt.Errorf("transfer retries cannot be negative: %d", c.TransferRetries)
	}

	if c.MaxTasks < 0 {
		return fmt.Errorf("max tasks cannot be negative: %d", c.MaxTasks)
	}

	if c.NotifyInterval < 0 {
		return fmt.Errorf("notify interval cannot be negative: %s", c.NotifyInterval)
	}

	if c.StorageDir == "" {
		return fmt.Errorf("storage directory cannot be empty")
	}

	return nil
}
