package feature

import (
	"os"
	"strings"
)

// EnvPrefix is the prefix shared by the environment variables of all feature flags.
const EnvPrefix = "CLINIC_FF_"

// Feature defines an application feature toggled by a specific environment variable.
type Feature struct {
	// EnvVariable defines the name of the corresponding environment variable.
	EnvVariable    string
	defaultEnabled bool
}

// Enabled reads the environment variable responsible for the feature flag. If FF is disabled by default, the
// environment variable needs to be `true` to explicitly enable it. If FF is enabled by default, variable needs to be
// `false` to explicitly disable it.
func (f Feature) Enabled() bool {
	env := os.Getenv(f.EnvVariable)

	if f.defaultEnabled {
		return env != "false"
	}

	return env == "true"
}

// BackfillPreflight is used to check, before applying a migration that adds a NOT NULL column without a default,
// whether the target table has rows. If it does the migration is refused with a backfill required error instead of
// failing inside the database with a not-null violation.
var BackfillPreflight = Feature{
	EnvVariable:    "CLINIC_FF_BACKFILL_PREFLIGHT",
	defaultEnabled: true,
}

// testFeature is used for testing purposes only
var testFeature = Feature{
	EnvVariable: "CLINIC_FF_TEST",
}

var all = []Feature{
	testFeature,
	BackfillPreflight,
}

// KnownEnvVar evaluates whether the input string matches the name of one of the known feature flag env vars.
func KnownEnvVar(name string) bool {
	for _, f := range all {
		if f.EnvVariable == name {
			return true
		}
	}

	return false
}

// UnknownEnvVars returns the names of variables in environ (formatted as key=value, as returned by os.Environ)
// that use the feature flag prefix but do not match a known feature flag.
func UnknownEnvVars(environ []string) []string {
	var unknown []string
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, EnvPrefix) && !KnownEnvVar(name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}
