package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TODOSYNC_SYNC_WRITE_TIMEOUT.
const EnvPrefix = "TODOSYNC"

// Backend names.
const (
	BackendGoogleTasks = "googletasks"
	BackendSQLite      = "sqlite"
	BackendRedis       = "redis"
)

// Token store names.
const (
	TokenStoreFile    = "file"
	TokenStoreKeyring = "keyring"
)

// Settings is the contents of config.yaml after defaults and environment
// overrides are applied.
type Settings struct {
	Backend     string              `mapstructure:"backend" validate:"required,oneof=googletasks sqlite redis"`
	User        string              `mapstructure:"user" validate:"required_unless=Backend googletasks"`
	TokenStore  string              `mapstructure:"token_store" validate:"required,oneof=file keyring"`
	LogLevel    string              `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	Sync        SyncSettings        `mapstructure:"sync"`
	GoogleTasks GoogleTasksSettings `mapstructure:"googletasks"`
	SQLite      SQLiteSettings      `mapstructure:"sqlite"`
	Redis       RedisSettings       `mapstructure:"redis"`
	Metrics     MetricsSettings     `mapstructure:"metrics"`
}

// SyncSettings tunes the task store.
type SyncSettings struct {
	// PendingTimeout expires acknowledged local changes the listener never
	// confirmed. Zero keeps them until confirmed.
	PendingTimeout time.Duration `mapstructure:"pending_timeout" validate:"gte=0"`

	// WriteTimeout bounds each remote write or delete.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`

	// ReadyTimeout bounds the wait for the first snapshot.
	ReadyTimeout time.Duration `mapstructure:"ready_timeout" validate:"gt=0"`

	// PollInterval is how often polling backends re-read the collection.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

// GoogleTasksSettings selects the task list used as the collection.
type GoogleTasksSettings struct {
	List string `mapstructure:"list" validate:"required"`
}

// SQLiteSettings configures the SQLite backend.
type SQLiteSettings struct {
	// Path defaults to tasks.db in the config directory.
	Path string `mapstructure:"path"`
}

// RedisSettings configures the Redis backend.
type RedisSettings struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// MetricsSettings configures the Prometheus endpoint served by watch.
type MetricsSettings struct {
	Addr string `mapstructure:"addr"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Backend:    BackendGoogleTasks,
		User:       os.Getenv("USER"),
		TokenStore: TokenStoreFile,
		LogLevel:   "warn",
		Sync: SyncSettings{
			PendingTimeout: 2 * time.Minute,
			WriteTimeout:   15 * time.Second,
			ReadyTimeout:   10 * time.Second,
			PollInterval:   30 * time.Second,
		},
		GoogleTasks: GoogleTasksSettings{List: "@default"},
		Redis:       RedisSettings{Addr: "localhost:6379"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("backend", d.Backend)
	v.SetDefault("user", d.User)
	v.SetDefault("token_store", d.TokenStore)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("sync.pending_timeout", d.Sync.PendingTimeout)
	v.SetDefault("sync.write_timeout", d.Sync.WriteTimeout)
	v.SetDefault("sync.ready_timeout", d.Sync.ReadyTimeout)
	v.SetDefault("sync.poll_interval", d.Sync.PollInterval)
	v.SetDefault("googletasks.list", d.GoogleTasks.List)
	v.SetDefault("sqlite.path", d.SQLite.Path)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Load reads config.yaml from the config directory, if present, applies
// TODOSYNC_* environment overrides and validates the result into c.Settings.
func (c *Config) Load() error {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(c.SettingsPath())
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading config %s: %w", c.SettingsPath(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return fmt.Errorf("parsing config %s: %w", c.SettingsPath(), err)
	}
	if err := validator.New().Struct(&s); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	c.Settings = s
	return nil
}
