package configuration

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type parameterTest struct {
	name  string
	value string
	want  interface{}
	err   string
}

type parameterValidator func(t *testing.T, want interface{}, got *Configuration)

// testParameter parses yml, formatted with the value of each test, and validates the result. Tests with a value are
// run a second time with the value set through envVar instead of yml.
func testParameter(t *testing.T, yml, envVar string, tests []parameterTest, fn parameterValidator) {
	t.Helper()

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(fmt.Sprintf(yml, test.value)))
			if test.err != "" {
				require.ErrorContains(t, err, test.err)
				return
			}
			require.NoError(t, err)
			fn(t, test.want, got)
		})

		if test.value == "" || envVar == "" {
			continue
		}

		t.Run(test.name+" from environment", func(t *testing.T) {
			t.Setenv(envVar, test.value)

			got, err := Parse(strings.NewReader(fmt.Sprintf(yml, "")))
			if test.err != "" {
				require.ErrorContains(t, err, test.err)
				return
			}
			require.NoError(t, err)
			fn(t, test.want, got)
		})
	}
}

func boolParameterTests(defaultValue bool) []parameterTest {
	return []parameterTest{
		{
			name:  "true",
			value: "true",
			want:  "true",
		},
		{
			name:  "false",
			value: "false",
			want:  "false",
		},
		{
			name: "default",
			want: strconv.FormatBool(defaultValue),
		},
	}
}

func TestParse_Defaults(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
`
	got, err := Parse(strings.NewReader(yml))
	require.NoError(t, err)

	want := &Configuration{
		Version: "0.1",
		Log: Log{
			Level:     "info",
			Formatter: LogFormatterText,
		},
		Database: Database{
			Host:   "localhost",
			Port:   5432,
			DBName: "clinic",
			Migrations: Migrations{
				Lock: true,
			},
		},
	}
	require.Equal(t, want, got)
}

func TestParse_Full(t *testing.T) {
	yml := `
version: 0.1
log:
  level: debug
  formatter: json
  fields:
    service: clinic
database:
  host: db.clinic.internal
  port: 6432
  user: clinic
  password: "s3cret pass"
  dbname: clinic_production
  sslmode: verify-full
  sslcert: /etc/clinic/client.crt
  sslkey: /etc/clinic/client.key
  sslrootcert: /etc/clinic/root.crt
  connecttimeout: 5s
  pool:
    maxidle: 5
    maxopen: 10
    maxlifetime: 1h
    maxidletime: 5m
  discovery:
    enabled: true
    nameserver: consul.clinic.internal
    port: "8600"
    tcp: true
    primaryrecord: master.clinic.service.consul
  migrations:
    lock: true
    lockid: 42
reporting:
  sentry:
    enabled: true
    dsn: https://key@sentry.example.com/1
    environment: production
http:
  debug:
    addr: localhost:5001
`
	got, err := Parse(strings.NewReader(yml))
	require.NoError(t, err)

	want := &Configuration{
		Version: "0.1",
		Log: Log{
			Level:     "debug",
			Formatter: LogFormatterJSON,
			Fields:    map[string]interface{}{"service": "clinic"},
		},
		Database: Database{
			Host:           "db.clinic.internal",
			Port:           6432,
			User:           "clinic",
			Password:       "s3cret pass",
			DBName:         "clinic_production",
			SSLMode:        "verify-full",
			SSLCert:        "/etc/clinic/client.crt",
			SSLKey:         "/etc/clinic/client.key",
			SSLRootCert:    "/etc/clinic/root.crt",
			ConnectTimeout: 5 * time.Second,
			Pool: Pool{
				MaxIdle:     5,
				MaxOpen:     10,
				MaxLifetime: time.Hour,
				MaxIdleTime: 5 * time.Minute,
			},
			Discovery: Discovery{
				Enabled:       true,
				Nameserver:    "consul.clinic.internal",
				Port:          "8600",
				TCP:           true,
				PrimaryRecord: "master.clinic.service.consul",
			},
			Migrations: Migrations{
				Lock:   true,
				LockID: 42,
			},
		},
		Reporting: Reporting{
			Sentry: Sentry{
				Enabled:     true,
				DSN:         "https://key@sentry.example.com/1",
				Environment: "production",
			},
		},
		HTTP: HTTP{
			Debug: Debug{Addr: "localhost:5001"},
		},
	}
	require.Equal(t, want, got)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yml  string
		err  string
	}{
		{
			name: "missing version",
			yml: `
database:
  dbname: clinic
`,
			err: "version: must be set",
		},
		{
			name: "unsupported version",
			yml: `
version: 0.2
database:
  dbname: clinic
`,
			err: `version: unsupported version "0.2", expected "0.1"`,
		},
		{
			name: "missing database name",
			yml: `
version: 0.1
`,
			err: "database.dbname: must be set",
		},
		{
			name: "port out of range",
			yml: `
version: 0.1
database:
  dbname: clinic
  port: 70000
`,
			err: "database.port: 70000 is out of range",
		},
		{
			name: "negative duration",
			yml: `
version: 0.1
database:
  dbname: clinic
  pool:
    maxlifetime: -1s
`,
			err: "database.pool.maxlifetime: must not be negative",
		},
		{
			name: "negative pool limit",
			yml: `
version: 0.1
database:
  dbname: clinic
  pool:
    maxopen: -1
`,
			err: "database.pool: connection limits must not be negative",
		},
		{
			name: "single connection with lock",
			yml: `
version: 0.1
database:
  dbname: clinic
  pool:
    maxopen: 1
`,
			err: "database.pool.maxopen: must be at least 2 when database.migrations.lock is enabled",
		},
		{
			name: "discovery without nameserver",
			yml: `
version: 0.1
database:
  dbname: clinic
  discovery:
    enabled: true
    primaryrecord: master.clinic.service.consul
`,
			err: "database.discovery.nameserver: must be set when discovery is enabled",
		},
		{
			name: "discovery without primary record",
			yml: `
version: 0.1
database:
  dbname: clinic
  discovery:
    enabled: true
    nameserver: consul.clinic.internal
`,
			err: "database.discovery.primaryrecord: must be set when discovery is enabled",
		},
		{
			name: "sentry without dsn",
			yml: `
version: 0.1
database:
  dbname: clinic
reporting:
  sentry:
    enabled: true
`,
			err: "reporting.sentry.dsn: must be set when sentry is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yml))
			require.EqualError(t, err, tt.err)
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse(strings.NewReader("version: [0.1"))
	require.ErrorContains(t, err, "parsing configuration")
}

func TestParse_SingleConnectionWithoutLock(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
  pool:
    maxopen: 1
  migrations:
    lock: false
`
	got, err := Parse(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, 1, got.Database.Pool.MaxOpen)
	require.False(t, got.Database.Migrations.Lock)
}

func TestParseLog_Level(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
log:
  level: %s
`
	tt := []parameterTest{
		{
			name:  "debug",
			value: "debug",
			want:  "debug",
		},
		{
			name:  "warn",
			value: "warn",
			want:  "warn",
		},
		{
			name: "default",
			want: "info",
		},
		{
			name:  "invalid",
			value: "loud",
			err:   `log.level: not a valid logrus Level: "loud"`,
		},
	}

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, got.Log.Level)
	}

	testParameter(t, yml, "CLINIC_LOG_LEVEL", tt, validator)
}

func TestParseLog_Formatter(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
log:
  formatter: %s
`
	tt := []parameterTest{
		{
			name:  "json",
			value: "json",
			want:  LogFormatterJSON,
		},
		{
			name: "default",
			want: LogFormatterText,
		},
		{
			name:  "unsupported",
			value: "logstash",
			err:   `log.formatter: unsupported formatter "logstash", must be one of "text" or "json"`,
		},
	}

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, got.Log.Formatter)
	}

	testParameter(t, yml, "CLINIC_LOG_FORMATTER", tt, validator)
}

func TestParseDatabase_Host(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
  host: %s
`
	tt := []parameterTest{
		{
			name:  "sample",
			value: "db.clinic.internal",
			want:  "db.clinic.internal",
		},
		{
			name: "default",
			want: "localhost",
		},
	}

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, got.Database.Host)
	}

	testParameter(t, yml, "CLINIC_DATABASE_HOST", tt, validator)
}

func TestParseDatabase_Port(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
  port: %s
`
	tt := []parameterTest{
		{
			name:  "sample",
			value: "6432",
			want:  6432,
		},
		{
			name: "default",
			want: 5432,
		},
	}

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, got.Database.Port)
	}

	testParameter(t, yml, "CLINIC_DATABASE_PORT", tt, validator)
}

func TestParseDatabase_Password(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
  password: %s
`
	tt := []parameterTest{
		{
			name:  "sample",
			value: "s3cret",
			want:  "s3cret",
		},
		{
			name: "default",
			want: "",
		},
	}

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, got.Database.Password)
	}

	testParameter(t, yml, "CLINIC_DATABASE_PASSWORD", tt, validator)
}

func TestParseDatabase_SSLMode(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
  sslmode: %s
`
	tt := []parameterTest{
		{
			name:  "sample",
			value: "require",
			want:  "require",
		},
		{
			name: "default",
			want: "",
		},
	}

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, got.Database.SSLMode)
	}

	testParameter(t, yml, "CLINIC_DATABASE_SSLMODE", tt, validator)
}

func TestParseDatabase_ConnectTimeout(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
  connecttimeout: %s
`
	tt := []parameterTest{
		{
			name:  "sample",
			value: "10s",
			want:  10 * time.Second,
		},
		{
			name: "default",
			want: time.Duration(0),
		},
		{
			name:  "invalid",
			value: "soon",
			err:   `time: invalid duration "soon"`,
		},
	}

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, got.Database.ConnectTimeout)
	}

	testParameter(t, yml, "CLINIC_DATABASE_CONNECTTIMEOUT", tt, validator)
}

func TestParseDatabase_Pool_MaxOpen(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
  pool:
    maxopen: %s
`
	tt := []parameterTest{
		{
			name:  "sample",
			value: "10",
			want:  10,
		},
		{
			name: "default",
			want: 0,
		},
	}

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, got.Database.Pool.MaxOpen)
	}

	testParameter(t, yml, "CLINIC_DATABASE_POOL_MAXOPEN", tt, validator)
}

func TestParseDatabase_Pool_MaxLifetime(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
  pool:
    maxlifetime: %s
`
	tt := []parameterTest{
		{
			name:  "sample",
			value: "1h",
			want:  time.Hour,
		},
		{
			name: "default",
			want: time.Duration(0),
		},
	}

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, got.Database.Pool.MaxLifetime)
	}

	testParameter(t, yml, "CLINIC_DATABASE_POOL_MAXLIFETIME", tt, validator)
}

func TestParseDatabase_Discovery_Enabled(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
  discovery:
    enabled: %s
    nameserver: consul.clinic.internal
    primaryrecord: master.clinic.service.consul
`
	tt := boolParameterTests(false)

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, strconv.FormatBool(got.Database.Discovery.Enabled))
	}

	testParameter(t, yml, "CLINIC_DATABASE_DISCOVERY_ENABLED", tt, validator)
}

func TestParseDatabase_Discovery_Nameserver(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
  discovery:
    nameserver: %s
`
	tt := []parameterTest{
		{
			name:  "sample",
			value: "sample.dns.name",
			want:  "sample.dns.name",
		},
		{
			name: "default",
			want: "",
		},
	}

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, got.Database.Discovery.Nameserver)
	}

	testParameter(t, yml, "CLINIC_DATABASE_DISCOVERY_NAMESERVER", tt, validator)
}

func TestParseDatabase_Discovery_Port(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
  discovery:
    enabled: true
    nameserver: consul.clinic.internal
    primaryrecord: master.clinic.service.consul
    port: %s
`
	tt := []parameterTest{
		{
			name:  "sample",
			value: "5353",
			want:  "5353",
		},
		{
			name: "default",
			want: "",
		},
	}

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, got.Database.Discovery.Port)
	}

	testParameter(t, yml, "CLINIC_DATABASE_DISCOVERY_PORT", tt, validator)
}

func TestParseDatabase_Discovery_TCP(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
  discovery:
    enabled: true
    nameserver: consul.clinic.internal
    primaryrecord: master.clinic.service.consul
    tcp: %s
`
	tt := boolParameterTests(false)

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, strconv.FormatBool(got.Database.Discovery.TCP))
	}

	testParameter(t, yml, "CLINIC_DATABASE_DISCOVERY_TCP", tt, validator)
}

func TestParseDatabase_Migrations_Lock(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
  migrations:
    lock: %s
`
	tt := boolParameterTests(true)

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, strconv.FormatBool(got.Database.Migrations.Lock))
	}

	testParameter(t, yml, "CLINIC_DATABASE_MIGRATIONS_LOCK", tt, validator)
}

func TestParseDatabase_Migrations_LockID(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
  migrations:
    lockid: %s
`
	tt := []parameterTest{
		{
			name:  "sample",
			value: "7236267847523689058",
			want:  int64(7236267847523689058),
		},
		{
			name: "default",
			want: int64(0),
		},
	}

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, got.Database.Migrations.LockID)
	}

	testParameter(t, yml, "CLINIC_DATABASE_MIGRATIONS_LOCKID", tt, validator)
}

func TestParseReporting_Sentry_Environment(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
reporting:
  sentry:
    enabled: true
    dsn: https://key@sentry.example.com/1
    environment: %s
`
	tt := []parameterTest{
		{
			name:  "sample",
			value: "staging",
			want:  "staging",
		},
		{
			name: "default",
			want: "",
		},
	}

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, got.Reporting.Sentry.Environment)
	}

	testParameter(t, yml, "CLINIC_REPORTING_SENTRY_ENVIRONMENT", tt, validator)
}

func TestParseHTTP_Debug_Addr(t *testing.T) {
	yml := `
version: 0.1
database:
  dbname: clinic
http:
  debug:
    addr: %s
`
	tt := []parameterTest{
		{
			name:  "sample",
			value: "localhost:5001",
			want:  "localhost:5001",
		},
		{
			name: "default",
			want: "",
		},
	}

	validator := func(t *testing.T, want interface{}, got *Configuration) {
		require.Equal(t, want, got.HTTP.Debug.Addr)
	}

	testParameter(t, yml, "CLINIC_HTTP_DEBUG_ADDR", tt, validator)
}
