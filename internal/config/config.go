package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr      string `mapstructure:"addr"`
		LogLevel  string `mapstructure:"log_level"`
		LogFormat string `mapstructure:"log_format"`
	} `mapstructure:"server"`

	Database struct {
		Driver     string `mapstructure:"driver"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"database"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Platform struct {
		BaseURL        string `mapstructure:"base_url"`
		APIVersion     string `mapstructure:"api_version"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
		InsightsWindow string `mapstructure:"insights_window"`
	} `mapstructure:"platform"`

	Sweep struct {
		AccountConcurrency int `mapstructure:"account_concurrency"`
		CallTimeoutSeconds int `mapstructure:"call_timeout_seconds"`
	} `mapstructure:"sweep"`
}

var keys = []string{
	"server.addr", "server.log_level", "server.log_format",
	"database.driver", "database.sqlite_path",
	"postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.db_name",
	"postgres.ssl_mode", "postgres.max_open_conns", "postgres.max_idle_conns",
	"listener.channel", "listener.reconnect_seconds",
	"platform.base_url", "platform.api_version", "platform.timeout_seconds", "platform.insights_window",
	"sweep.account_concurrency", "sweep.call_timeout_seconds",
}

// libpq-style variables the worker has always been deployed with
var pgEnv = map[string]string{
	"postgres.host":     "PGHOST",
	"postgres.port":     "PGPORT",
	"postgres.user":     "PGUSER",
	"postgres.password": "PGPASSWORD",
	"postgres.db_name":  "PGDATABASE",
}

// Load reads configs/application.yaml (optional), a .env file (optional) and the environment.
// A non-empty path replaces the default config file location.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // optional; real env wins over .env

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("application")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		_ = v.ReadInConfig() // optional; env can fully configure
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		names := []string{k, "APP_" + strings.ToUpper(strings.ReplaceAll(k, ".", "_"))}
		if alt, ok := pgEnv[k]; ok {
			names = append(names, alt)
		}
		_ = v.BindEnv(names...)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(c *Config) error {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 2
	}
	if c.Listener.Channel == "" {
		c.Listener.Channel = "rules_changed"
	}
	if c.Listener.ReconnectSeconds <= 0 {
		c.Listener.ReconnectSeconds = 5
	}
	if c.Platform.BaseURL == "" {
		c.Platform.BaseURL = "https://graph.facebook.com"
	}
	if c.Platform.APIVersion == "" {
		c.Platform.APIVersion = "v20.0"
	}
	if c.Platform.TimeoutSeconds <= 0 {
		c.Platform.TimeoutSeconds = 30
	}
	if c.Platform.InsightsWindow == "" {
		c.Platform.InsightsWindow = "last_7d"
	}
	if c.Sweep.AccountConcurrency <= 0 {
		c.Sweep.AccountConcurrency = 1
	}
	if c.Sweep.CallTimeoutSeconds <= 0 {
		c.Sweep.CallTimeoutSeconds = 60
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "autoads.db"
	}

	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
		if c.Postgres.Host != "" {
			c.Database.Driver = DriverPostgres
		}
	}
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Postgres.Host == "" || c.Postgres.User == "" || c.Postgres.DBName == "" {
			return fmt.Errorf("postgres driver needs host, user and db_name")
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) DSNRedacted() string {
	if c.Database.Driver == DriverSQLite {
		return "sqlite://" + c.Database.SQLitePath
	}
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s", c.Postgres.User, c.Postgres.Host, c.Postgres.Port, c.Postgres.DBName)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) PlatformTimeout() time.Duration {
	return time.Duration(c.Platform.TimeoutSeconds) * time.Second
}

func (c Config) CallTimeout() time.Duration {
	return time.Duration(c.Sweep.CallTimeoutSeconds) * time.Second
}
