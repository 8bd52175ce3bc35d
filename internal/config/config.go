// Package config defines the configuration surfaces of the cache:
// per-dataset CacheConfig records (validated with
// go-playground/validator) consumed by the router when registering a
// wrapped function, and the process-wide AppConfig bound to command
// line flags the way the teacher binds its server Config
// (internal/source/server/config.go): a Bind(*pflag.FlagSet) method
// plus a Preflight check. LoadDotEnv loads a .env file into the process
// environment through godotenv; AppConfig's flags do not read the
// environment.
package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

var validate = validator.New()

// CacheConfig is the per-dataset registration record described in
// SPEC_FULL.md §4.6. Empty KeyFields/CommonFields/ExceptFields trigger
// the router's auto-derivation rules documented there.
type CacheConfig struct {
	// TableBasename prefixes the physical table name; empty defaults to
	// the wrapped function's name.
	TableBasename string

	// DBPath is the embedded store file this dataset is persisted to.
	// An empty DBPath disables caching entirely (identity wrapper).
	DBPath string `validate:"omitempty,filepath"`

	KeyFields    []string
	CommonFields []string
	ExceptFields []string

	// Range-only fields; ignored by a point registration. A non-empty
	// StartCol/EndCol pair selects the range cache. DateCol is not read
	// by the router or the range cache, which always use the column
	// named "date".
	StartCol         string
	EndCol           string
	DateCol          string `validate:"omitempty"`
	MissingThreshold int    `validate:"gte=0"`

	// FieldMap implements spec.md §4.5's field_map indirection: when
	// non-empty, the fetcher is called with {k: argBag[v] for k, v in
	// FieldMap} in place of its common/except fields, letting an adapter
	// rename or rearrange parameters without touching the fetcher body.
	// Range-only; ignored by a point registration. The remapped bag
	// reaches a rangecache.Fetcher only: the fetcher the router builds
	// re-invokes the registered function with its original arguments,
	// so FieldMap does not change what that function receives.
	FieldMap map[string]string
}

// DefaultDateColumn is used when a range CacheConfig leaves DateCol
// empty.
const DefaultDateColumn = "date"

// Validate checks CacheConfig's struct tags and a handful of
// cross-field rules the validator package cannot express directly.
func (c CacheConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid cache config")
	}
	if c.DBPath == "" {
		return nil // identity wrapper: no further field requirements
	}
	seen := make(map[string]string, len(c.KeyFields))
	for _, name := range c.KeyFields {
		if owner, ok := seen[name]; ok {
			return errors.Errorf("field %q listed in both %s and key_fields", name, owner)
		}
		seen[name] = "key_fields"
	}
	for _, name := range c.CommonFields {
		if owner, ok := seen[name]; ok {
			return errors.Errorf("field %q listed in both %s and common_fields", name, owner)
		}
		seen[name] = "common_fields"
	}
	for _, name := range c.ExceptFields {
		if owner, ok := seen[name]; ok {
			return errors.Errorf("field %q listed in both %s and except_fields", name, owner)
		}
		seen[name] = "except_fields"
	}
	return nil
}

// IsRange reports whether c carries enough range-variant configuration
// (a start/end column pair) to be registered against the range cache
// rather than the point cache.
func (c CacheConfig) IsRange() bool {
	return c.StartCol != "" && c.EndCol != ""
}

// dateColumn returns DateCol, defaulted.
func (c CacheConfig) dateColumn() string {
	if c.DateCol == "" {
		return DefaultDateColumn
	}
	return c.DateCol
}

// AppConfig is the process-wide configuration for cmd/fincached.
type AppConfig struct {
	LogLevel    string `validate:"oneof=trace debug info warn error"`
	MetricsAddr string
	DefaultDB   string
}

// Bind registers AppConfig's flags on flags, mirroring the teacher's
// server.Config.Bind.
func (c *AppConfig) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.LogLevel, "logLevel", "info", "logging verbosity (trace, debug, info, warn, error)")
	flags.StringVar(&c.MetricsAddr, "metricsAddr", ":9090", "address to serve Prometheus metrics on")
	flags.StringVar(&c.DefaultDB, "dbPath", "fincache.db", "embedded store path reported at startup; not applied to registrations, where an empty db_path disables caching")
}

// Preflight validates AppConfig after flags have been parsed.
func (c *AppConfig) Preflight() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid app config")
	}
	if c.DefaultDB == "" {
		return errors.New("dbPath unset")
	}
	return nil
}

// LoadDotEnv loads key=value pairs from path into the process
// environment if the file exists, silently doing nothing if it does
// not. AppConfig's flags do not read the environment, so the loaded
// variables affect only code that reads them with os.Getenv.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrap(err, "loading "+path)
	}
	return nil
}
