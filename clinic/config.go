package clinic

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/clinicapp/clinic/configuration"
	"github.com/clinicapp/clinic/datastore"
	"github.com/clinicapp/clinic/datastore/migrations"
	"github.com/clinicapp/clinic/internal/feature"
	"github.com/clinicapp/clinic/version"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

const (
	configurationPathEnvVar = "CLINIC_CONFIGURATION_PATH"
	sentryFlushTimeout      = 2 * time.Second
)

func resolveConfiguration(args []string) (*configuration.Configuration, error) {
	var configurationPath string

	if len(args) > 0 {
		configurationPath = args[0]
	} else if os.Getenv(configurationPathEnvVar) != "" {
		configurationPath = os.Getenv(configurationPathEnvVar)
	}

	if configurationPath == "" {
		return nil, errors.New("configuration path unspecified")
	}

	fp, err := os.Open(configurationPath)
	if err != nil {
		return nil, err
	}

	defer fp.Close()

	config, err := configuration.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", configurationPath, err)
	}

	return config, nil
}

// configureLogging prepares the standard logger and returns an entry decorated with the configured fields.
func configureLogging(config *configuration.Configuration) (*logrus.Entry, error) {
	l, err := logrus.ParseLevel(config.Log.Level)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(l)

	switch config.Log.Formatter {
	case configuration.LogFormatterJSON:
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case configuration.LogFormatterText, "":
		logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339Nano, FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unsupported log formatter: %q", config.Log.Formatter)
	}

	log := logrus.NewEntry(logrus.StandardLogger())
	if len(config.Log.Fields) > 0 {
		log = log.WithFields(config.Log.Fields)
	}

	for _, name := range feature.UnknownEnvVars(os.Environ()) {
		log.WithField("name", name).Warn("ignoring unknown feature flag environment variable")
	}

	return log, nil
}

// configureReporting initializes the Sentry client if enabled.
func configureReporting(config *configuration.Configuration) error {
	if !config.Reporting.Sentry.Enabled {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:         config.Reporting.Sentry.DSN,
		Environment: config.Reporting.Sentry.Environment,
		Release:     version.Version,
	})
}

// reportError sends err to Sentry, if configured, and waits for it to be delivered.
func reportError(err error) {
	hub := sentry.CurrentHub()
	if hub.Client() == nil {
		return
	}
	hub.CaptureException(err)
	sentry.Flush(sentryFlushTimeout)
}

// exitWithError reports err and prints it to stderr prefixed by msg before exiting.
func exitWithError(msg string, err error) {
	reportError(err)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func dsnFromConfig(config *configuration.Configuration) (*datastore.DSN, error) {
	dsn := &datastore.DSN{
		Host:           config.Database.Host,
		Port:           config.Database.Port,
		User:           config.Database.User,
		Password:       config.Database.Password,
		DBName:         config.Database.DBName,
		SSLMode:        config.Database.SSLMode,
		SSLCert:        config.Database.SSLCert,
		SSLKey:         config.Database.SSLKey,
		SSLRootCert:    config.Database.SSLRootCert,
		ConnectTimeout: config.Database.ConnectTimeout,
	}

	if d := config.Database.Discovery; d.Enabled {
		r := datastore.NewDNSResolver(d.Nameserver, d.Port, d.TCP)
		if err := datastore.ResolvePrimary(r, d.PrimaryRecord, dsn); err != nil {
			return nil, fmt.Errorf("discovering primary database: %w", err)
		}
	}

	return dsn, nil
}

func dbFromConfig(config *configuration.Configuration, log *logrus.Entry) (*datastore.DB, error) {
	dsn, err := dsnFromConfig(config)
	if err != nil {
		return nil, err
	}

	return datastore.Open(dsn,
		datastore.WithLogger(log.WithField("component", "database")),
		datastore.WithLogLevel(logrus.GetLevel()),
		datastore.WithPoolConfig(&datastore.PoolConfig{
			MaxIdle:     config.Database.Pool.MaxIdle,
			MaxOpen:     config.Database.Pool.MaxOpen,
			MaxLifetime: config.Database.Pool.MaxLifetime,
			MaxIdleTime: config.Database.Pool.MaxIdleTime,
		}),
	)
}

func migratorOptions(config *configuration.Configuration, log logrus.FieldLogger) []migrations.MigratorOption {
	opts := []migrations.MigratorOption{migrations.WithLogger(log)}
	if !config.Database.Migrations.Lock {
		opts = append(opts, migrations.WithoutLock)
	}
	if config.Database.Migrations.LockID != 0 {
		opts = append(opts, migrations.WithLockID(config.Database.Migrations.LockID))
	}
	if skipPostDeployment {
		opts = append(opts, migrations.SkipPostDeployment)
	}
	return opts
}

// setup resolves the configuration in args and opens the database connection, exiting on failure.
func setup(args []string, usage func() error) (*configuration.Configuration, *logrus.Entry, *sql.DB) {
	config, err := resolveConfiguration(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		usage()
		os.Exit(1)
	}

	log, err := configureLogging(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to configure logging with config: %s\n", err)
		os.Exit(1)
	}

	if err := configureReporting(config); err != nil {
		fmt.Fprintf(os.Stderr, "unable to configure error reporting: %s\n", err)
		os.Exit(1)
	}

	db, err := dbFromConfig(config, log)
	if err != nil {
		exitWithError("failed to construct database connection", err)
	}
	log.WithField("address", db.Address()).Info("connected to database")

	return config, log, db.DB
}
