package testutil

import (
	"fmt"
	"os"
	"strconv"

	"github.com/clinicapp/clinic/datastore"
)

// NewDSNFromEnv generates a new DSN for the test database based on environment variable configurations.
func NewDSNFromEnv() (*datastore.DSN, error) {
	port, err := strconv.Atoi(os.Getenv("PGPORT"))
	if err != nil {
		return nil, fmt.Errorf("parsing DSN port: %w", err)
	}
	dsn := &datastore.DSN{
		Host:        os.Getenv("PGHOST"),
		Port:        port,
		User:        os.Getenv("PGUSER"),
		Password:    os.Getenv("PGPASSWORD"),
		DBName:      "clinic_test",
		SSLMode:     os.Getenv("PGSSLMODE"),
		SSLCert:     os.Getenv("PGSSLCERT"),
		SSLKey:      os.Getenv("PGSSLKEY"),
		SSLRootCert: os.Getenv("PGSSLROOTCERT"),
	}

	return dsn, nil
}

// NewDBFromEnv generates a new datastore.DB and opens the underlying connection.
func NewDBFromEnv() (*datastore.DB, error) {
	dsn, err := NewDSNFromEnv()
	if err != nil {
		return nil, err
	}

	db, err := datastore.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return db, nil
}
