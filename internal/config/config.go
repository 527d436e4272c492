// Package config handles the XDG configuration directory, credential file
// paths and the settings file.
package config

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	// AppName is the application directory name.
	AppName = "todosync"

	// OAuthClientFile is the OAuth client credentials filename.
	OAuthClientFile = "oauth_client.json"

	// TokenFile is the stored OAuth token filename.
	TokenFile = "token.json"

	// IdentityFile records who signed in with the stored token.
	IdentityFile = "identity.json"

	// SettingsFile is the optional settings filename.
	SettingsFile = "config.yaml"

	// DatabaseFile is the default SQLite database filename.
	DatabaseFile = "tasks.db"
)

// Config holds configuration paths and settings.
type Config struct {
	// Dir is the configuration directory path.
	Dir string

	// Debug enables debug logging.
	Debug bool

	// Quiet suppresses informational output.
	Quiet bool

	// Settings is populated by Load.
	Settings Settings

	// Logger is set by the dispatcher; it is never nil after New.
	Logger *zap.Logger
}

// New creates a new Config with the default or specified config directory.
// If configDir is empty, uses XDG_CONFIG_HOME/todosync or $HOME/.config/todosync.
func New(configDir string) (*Config, error) {
	dir := configDir
	if dir == "" {
		dir = DefaultConfigDir()
	}
	return &Config{Dir: dir, Settings: Defaults(), Logger: zap.NewNop()}, nil
}

// DefaultConfigDir returns the default configuration directory.
// Uses XDG_CONFIG_HOME if set, otherwise $HOME/.config.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home can't be determined
		return AppName
	}
	return filepath.Join(home, ".config", AppName)
}

// OAuthClientPath returns the path to the OAuth client credentials file.
func (c *Config) OAuthClientPath() string {
	return filepath.Join(c.Dir, OAuthClientFile)
}

// TokenPath returns the path to the stored OAuth token file.
func (c *Config) TokenPath() string {
	return filepath.Join(c.Dir, TokenFile)
}

// IdentityPath returns the path to the signed-in identity file.
func (c *Config) IdentityPath() string {
	return filepath.Join(c.Dir, IdentityFile)
}

// SettingsPath returns the path to the settings file.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.Dir, SettingsFile)
}

// DatabasePath returns the SQLite database path, honoring sqlite.path.
func (c *Config) DatabasePath() string {
	if c.Settings.SQLite.Path != "" {
		return c.Settings.SQLite.Path
	}
	return filepath.Join(c.Dir, DatabaseFile)
}

// EnsureDir creates the config directory if it doesn't exist.
// Directory is created with mode 0700.
func (c *Config) EnsureDir() error {
	return os.MkdirAll(c.Dir, 0700)
}

// HasOAuthClient checks if the OAuth client credentials file exists.
func (c *Config) HasOAuthClient() bool {
	_, err := os.Stat(c.OAuthClientPath())
	return err == nil
}
