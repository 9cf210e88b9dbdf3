// Package config provides configuration management for the BorgVault gateway.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Service      ServiceConfig      `mapstructure:"service"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Lock         LockConfig         `mapstructure:"lock"`
	Borg         BorgConfig         `mapstructure:"borg"`
	Notification NotificationConfig `mapstructure:"notification"`
	Maintenance  MaintenanceConfig  `mapstructure:"maintenance"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServiceConfig holds the identity of the gateway service.
type ServiceConfig struct {
	// Account is the OS account all remote sessions log in as. Remote
	// sessions with any other LOGNAME are rejected.
	Account string `mapstructure:"account"`

	// Name is the operator-facing name of this server, used in prompts and
	// notifications.
	Name string `mapstructure:"name"`

	// AdminContact is shown to users in the shell and in notifications.
	AdminContact string `mapstructure:"admin_contact"`

	// DefaultPrincipalQuota is the byte quota assigned to new principals
	// when none is given.
	DefaultPrincipalQuota int64 `mapstructure:"default_principal_quota"`

	// DefaultRepoQuota is the byte quota assigned to new repositories when
	// none is given.
	DefaultRepoQuota int64 `mapstructure:"default_repo_quota"`

	// MaxRepoCount is the repository count limit for new principals.
	MaxRepoCount int `mapstructure:"max_repo_count"`
}

// DatabaseConfig holds ledger database settings.
// Supports both SQLite (embedded, default) and PostgreSQL backends.
type DatabaseConfig struct {
	// Driver specifies the database driver: "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`

	// SQLite settings (used when Driver is "sqlite")
	Path            string `mapstructure:"path"`
	JournalMode     string `mapstructure:"journal_mode"`
	BusyTimeout     int    `mapstructure:"busy_timeout"`
	SynchronousMode string `mapstructure:"synchronous_mode"`

	// PostgreSQL settings (used when Driver is "postgres")
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int    `mapstructure:"max_conns"`
}

// DSN returns the PostgreSQL connection string.
// Only valid when Driver is "postgres".
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// IsEmbedded returns true if using the embedded database (SQLite).
func (c DatabaseConfig) IsEmbedded() bool {
	return c.Driver == "sqlite"
}

// StorageConfig holds storage tree settings.
type StorageConfig struct {
	// Root is the storage root. The backup tree lives under <root>/backups,
	// the service account home under <root>/home.
	Root string `mapstructure:"root"`

	// AuthorizedKeysPath overrides where the authorized-principals artifact
	// is written. Empty means <root>/home/.ssh/authorized_keys.
	AuthorizedKeysPath string `mapstructure:"authorized_keys_path"`
}

// LockConfig holds advisory lock settings.
type LockConfig struct {
	// Timeout bounds how long lock acquisition polls before failing.
	Timeout time.Duration `mapstructure:"timeout"`

	// PollInterval is the fixed sleep between acquisition attempts.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// BorgConfig holds backup engine settings.
type BorgConfig struct {
	// Executable is the path to the borg binary.
	Executable string `mapstructure:"executable"`

	// ServeToken is the only client-supplied command accepted for serve
	// sessions.
	ServeToken string `mapstructure:"serve_token"`
}

// NotificationConfig holds stale-backup notification settings.
type NotificationConfig struct {
	// From is the sender address of notification mails.
	From string `mapstructure:"from"`

	// SendmailPath is the sendmail-compatible binary used for delivery.
	SendmailPath string `mapstructure:"sendmail_path"`

	// StaleAfterDays is the window after which a repository without a
	// successful mutating serve counts as stale.
	StaleAfterDays int `mapstructure:"stale_after_days"`
}

// MaintenanceConfig holds scheduled maintenance settings.
type MaintenanceConfig struct {
	// LogRetentionDays is how long acknowledged log entries are kept.
	LogRetentionDays int `mapstructure:"log_retention_days"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the specified file and environment
// variables. Environment variables take precedence over file values and are
// prefixed with BORGVAULT_CFG, using _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BORGVAULT_CFG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/borgvault")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is acceptable - use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.account", "borgvault")
	v.SetDefault("service.name", "borgvault")
	v.SetDefault("service.admin_contact", "root@localhost")
	v.SetDefault("service.default_principal_quota", int64(1000)*1000*1000*1000) // 1 TB
	v.SetDefault("service.default_repo_quota", int64(500)*1000*1000*1000)       // 500 GB
	v.SetDefault("service.max_repo_count", 10)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "") // empty means <storage.root>/borgvault.db
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)
	v.SetDefault("database.synchronous_mode", "NORMAL")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "borgvault")
	v.SetDefault("database.database", "borgvault")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_conns", 4)

	v.SetDefault("storage.root", "/var/lib/borgvault")
	v.SetDefault("storage.authorized_keys_path", "")

	v.SetDefault("lock.timeout", 30*time.Minute)
	v.SetDefault("lock.poll_interval", 5*time.Second)

	v.SetDefault("borg.executable", "borg")
	v.SetDefault("borg.serve_token", "borg serve")

	v.SetDefault("notification.from", "borgvault@localhost")
	v.SetDefault("notification.sendmail_path", "/usr/sbin/sendmail")
	v.SetDefault("notification.stale_after_days", 2)

	v.SetDefault("maintenance.log_retention_days", 90)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	if c.Service.Account == "" {
		return fmt.Errorf("service.account is required")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite' or 'postgres'")
	}
	if c.Database.Driver == "postgres" {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for postgres driver")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for postgres driver")
		}
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}

	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("lock.timeout must be positive")
	}
	if c.Lock.PollInterval <= 0 {
		return fmt.Errorf("lock.poll_interval must be positive")
	}

	if c.Notification.StaleAfterDays < 1 {
		return fmt.Errorf("notification.stale_after_days must be at least 1")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}

// DatabasePath returns the effective SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return c.Storage.Root + "/borgvault.db"
}
