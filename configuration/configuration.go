// Package configuration loads the clinic configuration from a YAML document, with environment variable overrides.
package configuration

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// CurrentVersion is the only supported version of the configuration format.
const CurrentVersion = "0.1"

// EnvPrefix is prepended to configuration keys to build the name of the environment variables overriding them,
// e.g. CLINIC_DATABASE_HOST overrides database.host.
const EnvPrefix = "CLINIC"

// Log formatters.
const (
	LogFormatterText = "text"
	LogFormatterJSON = "json"
)

// Configuration is the clinic configuration.
type Configuration struct {
	Version   string    `mapstructure:"version"`
	Log       Log       `mapstructure:"log"`
	Database  Database  `mapstructure:"database"`
	Reporting Reporting `mapstructure:"reporting"`
	HTTP      HTTP      `mapstructure:"http"`
}

// Log configures the process logger.
type Log struct {
	Level     string                 `mapstructure:"level"`
	Formatter string                 `mapstructure:"formatter"`
	Fields    map[string]interface{} `mapstructure:"fields"`
}

// Database configures the connection to the PostgreSQL database.
type Database struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname"`
	SSLMode        string        `mapstructure:"sslmode"`
	SSLCert        string        `mapstructure:"sslcert"`
	SSLKey         string        `mapstructure:"sslkey"`
	SSLRootCert    string        `mapstructure:"sslrootcert"`
	ConnectTimeout time.Duration `mapstructure:"connecttimeout"`

	Pool       Pool       `mapstructure:"pool"`
	Discovery  Discovery  `mapstructure:"discovery"`
	Migrations Migrations `mapstructure:"migrations"`
}

// Pool configures the database connection pool. Zero values mean no limit.
type Pool struct {
	MaxIdle     int           `mapstructure:"maxidle"`
	MaxOpen     int           `mapstructure:"maxopen"`
	MaxLifetime time.Duration `mapstructure:"maxlifetime"`
	MaxIdleTime time.Duration `mapstructure:"maxidletime"`
}

// Discovery configures the lookup of the primary database host through DNS SRV records.
type Discovery struct {
	Enabled       bool   `mapstructure:"enabled"`
	Nameserver    string `mapstructure:"nameserver"`
	Port          string `mapstructure:"port"`
	TCP           bool   `mapstructure:"tcp"`
	PrimaryRecord string `mapstructure:"primaryrecord"`
}

// Migrations configures how schema migrations are run.
type Migrations struct {
	Lock   bool  `mapstructure:"lock"`
	LockID int64 `mapstructure:"lockid"`
}

// Reporting configures error reporting services.
type Reporting struct {
	Sentry Sentry `mapstructure:"sentry"`
}

// Sentry configures error reporting to Sentry.
type Sentry struct {
	Enabled     bool   `mapstructure:"enabled"`
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// HTTP configures HTTP listeners.
type HTTP struct {
	Debug Debug `mapstructure:"debug"`
}

// Debug configures the debug server, which exposes Prometheus metrics. It is disabled if Addr is empty.
type Debug struct {
	Addr string `mapstructure:"addr"`
}

// defaults must list every key so that environment overrides apply to keys missing from the YAML document.
var defaults = map[string]interface{}{
	"version":                          "",
	"log.level":                        "info",
	"log.formatter":                    LogFormatterText,
	"database.host":                    "localhost",
	"database.port":                    5432,
	"database.user":                    "",
	"database.password":                "",
	"database.dbname":                  "",
	"database.sslmode":                 "",
	"database.sslcert":                 "",
	"database.sslkey":                  "",
	"database.sslrootcert":             "",
	"database.connecttimeout":          "0s",
	"database.pool.maxidle":            0,
	"database.pool.maxopen":            0,
	"database.pool.maxlifetime":        "0s",
	"database.pool.maxidletime":        "0s",
	"database.discovery.enabled":       false,
	"database.discovery.nameserver":    "",
	"database.discovery.port":          "",
	"database.discovery.tcp":           false,
	"database.discovery.primaryrecord": "",
	"database.migrations.lock":         true,
	"database.migrations.lockid":       int64(0),
	"reporting.sentry.enabled":         false,
	"reporting.sentry.dsn":             "",
	"reporting.sentry.environment":     "",
	"http.debug.addr":                  "",
}

// Parse parses a YAML configuration document from rd, applies environment variable overrides and validates the
// result.
func Parse(rd io.Reader) (*Configuration, error) {
	in, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	if err := v.ReadConfig(bytes.NewReader(in)); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	config := new(Configuration)
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(config, hook); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Configuration) validate() error {
	if c.Version == "" {
		return errors.New("version: must be set")
	}
	if c.Version != CurrentVersion {
		return fmt.Errorf("version: unsupported version %q, expected %q", c.Version, CurrentVersion)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Formatter {
	case LogFormatterText, LogFormatterJSON:
	default:
		return fmt.Errorf("log.formatter: unsupported formatter %q, must be one of %q or %q",
			c.Log.Formatter, LogFormatterText, LogFormatterJSON)
	}

	if c.Database.Port < 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port: %d is out of range", c.Database.Port)
	}
	if c.Database.DBName == "" {
		return errors.New("database.dbname: must be set")
	}
	for k, d := range map[string]time.Duration{
		"database.connecttimeout":   c.Database.ConnectTimeout,
		"database.pool.maxlifetime": c.Database.Pool.MaxLifetime,
		"database.pool.maxidletime": c.Database.Pool.MaxIdleTime,
	} {
		if d < 0 {
			return fmt.Errorf("%s: must not be negative", k)
		}
	}
	if c.Database.Pool.MaxIdle < 0 || c.Database.Pool.MaxOpen < 0 {
		return errors.New("database.pool: connection limits must not be negative")
	}
	// the migration lock is held on a dedicated connection while migrations run on another
	if c.Database.Migrations.Lock && c.Database.Pool.MaxOpen == 1 {
		return errors.New("database.pool.maxopen: must be at least 2 when database.migrations.lock is enabled")
	}

	if c.Database.Discovery.Enabled {
		if c.Database.Discovery.Nameserver == "" {
			return errors.New("database.discovery.nameserver: must be set when discovery is enabled")
		}
		if c.Database.Discovery.PrimaryRecord == "" {
			return errors.New("database.discovery.primaryrecord: must be set when discovery is enabled")
		}
	}

	if c.Reporting.Sentry.Enabled && c.Reporting.Sentry.DSN == "" {
		return errors.New("reporting.sentry.dsn: must be set when sentry is enabled")
	}

	return nil
}
