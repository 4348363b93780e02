package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/log/logrusadapter"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/sirupsen/logrus"
)

const driverName = "pgx"

// Queryer is the common interface to execute queries on a database.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DB is a database handle that implements Queryer.
type DB struct {
	*sql.DB
	dsn *DSN
}

// Address returns the host:port address of the database server.
func (db *DB) Address() string {
	if db.dsn == nil {
		return ""
	}
	return db.dsn.Address()
}

// DSN represents the Data Source Name parameters for a DB connection.
type DSN struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	SSLMode        string
	SSLCert        string
	SSLKey         string
	SSLRootCert    string
	ConnectTimeout time.Duration
}

// String builds the string representation of a DSN.
func (dsn *DSN) String() string {
	var params []string

	port := ""
	if dsn.Port > 0 {
		port = strconv.Itoa(dsn.Port)
	}
	connectTimeout := ""
	if dsn.ConnectTimeout > 0 {
		connectTimeout = fmt.Sprintf("%.0f", dsn.ConnectTimeout.Seconds())
	}

	for _, param := range []struct{ k, v string }{
		{"host", dsn.Host},
		{"port", port},
		{"user", dsn.User},
		{"password", dsn.Password},
		{"dbname", dsn.DBName},
		{"sslmode", dsn.SSLMode},
		{"sslcert", dsn.SSLCert},
		{"sslkey", dsn.SSLKey},
		{"sslrootcert", dsn.SSLRootCert},
		{"connect_timeout", connectTimeout},
	} {
		if param.v == "" {
			continue
		}
		params = append(params, fmt.Sprintf("%s=%s", param.k, escapeParamValue(param.v)))
	}

	return strings.Join(params, " ")
}

// Address returns the host:port segment of a DSN.
func (dsn *DSN) Address() string {
	return net.JoinHostPort(dsn.Host, strconv.Itoa(dsn.Port))
}

// escapeParamValue quotes values that contain spaces, quotes or backslashes, as required by libpq key/value
// connection strings.
func escapeParamValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// PoolConfig represents the configuration of the connection pool.
type PoolConfig struct {
	MaxIdle     int
	MaxOpen     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

type openOpts struct {
	logger   *logrus.Entry
	logLevel pgx.LogLevel
	pool     *PoolConfig
}

// OpenOption is used to pass options to Open.
type OpenOption func(*openOpts)

// WithLogger configures the logger used by the database driver.
func WithLogger(l *logrus.Entry) OpenOption {
	return func(opts *openOpts) {
		opts.logger = l
	}
}

// WithLogLevel configures the level of the driver logs.
func WithLogLevel(l logrus.Level) OpenOption {
	return func(opts *openOpts) {
		switch {
		case l >= logrus.TraceLevel:
			opts.logLevel = pgx.LogLevelTrace
		case l >= logrus.DebugLevel:
			opts.logLevel = pgx.LogLevelDebug
		case l >= logrus.InfoLevel:
			opts.logLevel = pgx.LogLevelInfo
		case l >= logrus.WarnLevel:
			opts.logLevel = pgx.LogLevelWarn
		default:
			opts.logLevel = pgx.LogLevelError
		}
	}
}

// WithPoolConfig configures the settings of the connection pool.
func WithPoolConfig(c *PoolConfig) OpenOption {
	return func(opts *openOpts) {
		opts.pool = c
	}
}

// Open opens a database and verifies the connection.
func Open(dsn *DSN, opts ...OpenOption) (*DB, error) {
	config := openOpts{
		logger:   logrus.NewEntry(logrus.New()),
		logLevel: pgx.LogLevelWarn,
		pool:     &PoolConfig{},
	}
	for _, o := range opts {
		o(&config)
	}

	pgxConfig, err := pgx.ParseConfig(dsn.String())
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	pgxConfig.Logger = logrusadapter.NewLogger(config.logger)
	pgxConfig.LogLevel = config.logLevel
	connStr := stdlib.RegisterConnConfig(pgxConfig)

	db, err := sql.Open(driverName, connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}

	db.SetMaxOpenConns(config.pool.MaxOpen)
	db.SetMaxIdleConns(config.pool.MaxIdle)
	db.SetConnMaxLifetime(config.pool.MaxLifetime)
	db.SetConnMaxIdleTime(config.pool.MaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	return &DB{DB: db, dsn: dsn}, nil
}
