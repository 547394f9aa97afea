// Package config loads the file store's configuration constants
// (spec.md §6) via viper: environment variables override a config file,
// which overrides the built-in defaults. No per-option command-line flags
// are bound; the config file's path is the only value taken from a flag.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds every recognized option from spec.md §6, plus the metrics
// port addition from SPEC_FULL.md §4.8.
type Config struct {
	Port                    int    `mapstructure:"port"`
	SessionPoolSize         int    `mapstructure:"session_pool_size"`
	FilePoolSize            int    `mapstructure:"file_pool_size"`
	ConnectionQueueCapacity int    `mapstructure:"connection_queue_capacity"`
	TaskQueueCapacity       int    `mapstructure:"task_queue_capacity"`
	StorageRoot             string `mapstructure:"storage_root"`
	UserQuota               int64  `mapstructure:"user_quota"`
	MaxUsers                int    `mapstructure:"max_users"`
	MaxUploadSize           int64  `mapstructure:"max_upload_size"`
	MetricsPort             int    `mapstructure:"metrics_port"`
}

// defaults mirrors the reference implementation's constants (server.h's
// PORT/CLIENT_THREADPOOL_SIZE/WORKER_THREADPOOL_SIZE/MAX_CLIENTS and
// utils.h's USER_QUOTA_BYTES/MAX_USERS), adjusted for this server's
// explicit connection/task queue capacities.
func defaults() Config {
	return Config{
		Port:                    8080,
		SessionPoolSize:         5,
		FilePoolSize:            3,
		ConnectionQueueCapacity: 10,
		TaskQueueCapacity:       32,
		StorageRoot:             "./storage",
		UserQuota:               100 * 1024 * 1024,
		MaxUsers:                1000,
		MaxUploadSize:           1024 * 1024 * 1024,
		MetricsPort:             9090,
	}
}

// Load builds a viper instance bound to the FILESTORE_ environment
// variable prefix, the optional config file at path (ignored if empty or
// missing), and the defaults above, then decodes it into a Config.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()

	d := defaults()
	v.SetDefault("port", d.Port)
	v.SetDefault("session_pool_size", d.SessionPoolSize)
	v.SetDefault("file_pool_size", d.FilePoolSize)
	v.SetDefault("connection_queue_capacity", d.ConnectionQueueCapacity)
	v.SetDefault("task_queue_capacity", d.TaskQueueCapacity)
	v.SetDefault("storage_root", d.StorageRoot)
	v.SetDefault("user_quota", d.UserQuota)
	v.SetDefault("max_users", d.MaxUsers)
	v.SetDefault("max_upload_size", d.MaxUploadSize)
	v.SetDefault("metrics_port", d.MetricsPort)

	v.SetEnvPrefix("FILESTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, isNotFound := err.(viper.ConfigFileNotFoundError); !isNotFound && !os.IsNotExist(err) {
				return nil, nil, fmt.Errorf("config: read %q: %w", path, err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, nil, fmt.Errorf("config: decode: %w", err)
	}
	return &c, v, nil
}

// WatchForChanges installs an fsnotify-backed watch (via viper.WatchConfig)
// that invokes onChange whenever the loaded config file is modified. No
// command in this module calls it (the admin CLI's "config show" reads the
// file afresh on each run), and it never resizes the running worker pools,
// which stay fixed-cardinality for the process lifetime per spec.md §5.
func WatchForChanges(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(_ fsnotify.Event) {
		var c Config
		if err := v.Unmarshal(&c); err == nil {
			onChange(&c)
		}
	})
	v.WatchConfig()
}
