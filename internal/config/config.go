// Package config defines the process configuration for s3etl.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables. Command-line flags are applied last by the CLI.
// The environment names match the ones used by existing deployments
// (AWS_*, S3_BUCKET_*, DB_*), plus S3ETL_* for pipeline tunables.
//
// Example (trimmed):
//
//	aws:
//	  region: ap-south-1
//	buckets: { mba: hma-mba-bucket, policy: hma-policy-bucket }
//	storage: { kind: mysql, host: db.internal, name: hma, user: etl }
//	pipeline:
//	  conflict_policy: update
//	  parser: { encoding: utf-8, comma: "," }
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scopes are the two fixed source domains.
const (
	ScopeMBA    = "mba"
	ScopePolicy = "policy"
)

// Config is the full process configuration. It is a plain value and safe to
// share across goroutines once loaded.
type Config struct {
	AWS      AWS      `yaml:"aws"`
	Buckets  Scoped   `yaml:"buckets"`
	Prefixes Scoped   `yaml:"prefixes"`
	Storage  Storage  `yaml:"storage"`
	Pipeline Pipeline `yaml:"pipeline"`
	Upload   Upload   `yaml:"upload"`
	Metrics  Metrics  `yaml:"metrics"`
	// Tables overrides the built-in table rules, in match order.
	Tables []Table `yaml:"tables"`
}

// Scoped holds one value per scope.
type Scoped struct {
	MBA    string `yaml:"mba"`
	Policy string `yaml:"policy"`
}

// AWS configures the object store.
type AWS struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Profile         string `yaml:"profile"`
	// Endpoint targets an S3-compatible service (MinIO, LocalStack).
	Endpoint string `yaml:"endpoint"`
	UseSSL   bool   `yaml:"use_ssl"`
	// SSE is applied to uploads: "AES256" or empty.
	SSE string `yaml:"sse"`
	// Store selects the gateway: "s3" (default) or "local".
	Store string `yaml:"store"`
	// LocalRoot is the directory used by the local store.
	LocalRoot string `yaml:"local_root"`
}

// Storage configures the relational store.
type Storage struct {
	// Kind selects the backend: mysql, postgres, sqlite or mssql.
	Kind     string `yaml:"kind"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// Params is appended to the generated DSN as a query string.
	Params string `yaml:"params"`
	// Options carries backend tunables (max_open_conns, busy_timeout_ms, ...).
	Options Options `yaml:"options"`
}

// Pipeline configures the batch ETL.
type Pipeline struct {
	// Extension selects candidate keys; compared case-insensitively.
	Extension string `yaml:"extension"`
	// ConflictPolicy is update, ignore or append.
	ConflictPolicy string `yaml:"conflict_policy"`
	BatchSize      int    `yaml:"batch_size"`
	// Parser holds CSV options: comma, encoding, trim_space, lazy_quotes,
	// max_bytes.
	Parser Options `yaml:"parser"`
}

// Upload configures the local-to-bucket upload workflow.
type Upload struct {
	Concurrency    int      `yaml:"concurrency"`
	Retries        int      `yaml:"retries"`
	RatePerSec     float64  `yaml:"rate_per_sec"`
	DryRun         bool     `yaml:"dry_run"`
	CheckDuplicate bool     `yaml:"check_duplicate"`
	Overwrite      bool     `yaml:"overwrite"`
	CacheFile      string   `yaml:"cache_file"`
	Include        []string `yaml:"include"`
	Exclude        []string `yaml:"exclude"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is none, prometheus or datadog.
	Backend        string `yaml:"backend"`
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
	DatadogAddr    string `yaml:"datadog_addr"`
}

// Table declares one table rule.
type Table struct {
	Name     string            `yaml:"name"`
	Patterns []string          `yaml:"patterns"`
	Table    string            `yaml:"table"`
	Required []string          `yaml:"required"`
	NotNull  []string          `yaml:"not_null"`
	Keys     []string          `yaml:"keys"`
	Columns  []string          `yaml:"columns"`
	Coerce   map[string]string `yaml:"coerce"`
	Derive   []Derive          `yaml:"derive"`
	Defaults map[string]any    `yaml:"defaults"`
}

// Derive declares a regex capture from Source into Target.
type Derive struct {
	Target  string `yaml:"target"`
	Source  string `yaml:"source"`
	Pattern string `yaml:"pattern"`
}

// Error reports invalid or missing configuration. It is fatal at startup.
type Error struct {
	Message string
	Issues  []Issue
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("config: ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	for _, iss := range e.Issues {
		b.WriteString("\n  ")
		b.WriteString(iss.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		AWS: AWS{
			Region: "ap-south-1",
			SSE:    "AES256",
			Store:  "s3",
		},
		Buckets:  Scoped{MBA: "hma-mba-bucket", Policy: "hma-policy-bucket"},
		Prefixes: Scoped{MBA: "mba/", Policy: "policy/"},
		Storage: Storage{
			Kind: "mysql",
			Host: "localhost",
			Name: "hma",
			User: "root",
		},
		Pipeline: Pipeline{
			Extension:      ".csv",
			ConflictPolicy: "update",
			BatchSize:      1000,
			Parser:         Options{},
		},
		Upload: Upload{
			Concurrency:    4,
			Retries:        3,
			CheckDuplicate: true,
			CacheFile:      ".s3etl_hash_cache.json",
		},
		Metrics: Metrics{Backend: "none", Job: "s3etl"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment read through getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Message: "read " + path, Err: err}
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, &Error{Message: "parse " + path, Err: err}
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	if cfg.Pipeline.Parser == nil {
		cfg.Pipeline.Parser = Options{}
	}
	if cfg.Storage.Options == nil {
		cfg.Storage.Options = Options{}
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	var errs []error
	num := func(dst *int, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(dst *bool, key string) {
		switch strings.ToLower(strings.TrimSpace(getenv(key))) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}

	str(&cfg.AWS.AccessKeyID, "AWS_ACCESS_KEY_ID")
	str(&cfg.AWS.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	str(&cfg.AWS.Region, "AWS_DEFAULT_REGION", "AWS_REGION")
	str(&cfg.AWS.Profile, "AWS_PROFILE")
	str(&cfg.AWS.Endpoint, "S3_ENDPOINT", "AWS_ENDPOINT_URL_S3")
	flag(&cfg.AWS.UseSSL, "S3_USE_SSL")
	str(&cfg.AWS.SSE, "S3_SSE")
	str(&cfg.AWS.Store, "S3ETL_STORE")
	str(&cfg.AWS.LocalRoot, "S3ETL_LOCAL_ROOT")

	str(&cfg.Buckets.MBA, "S3_BUCKET_MBA")
	str(&cfg.Buckets.Policy, "S3_BUCKET_POLICY")
	str(&cfg.Prefixes.MBA, "S3_PREFIX_MBA")
	str(&cfg.Prefixes.Policy, "S3_PREFIX_POLICY")

	str(&cfg.Storage.Kind, "DB_DRIVER")
	str(&cfg.Storage.DSN, "DB_DSN")
	str(&cfg.Storage.Host, "DB_HOST")
	num(&cfg.Storage.Port, "DB_PORT")
	str(&cfg.Storage.Name, "DB_NAME")
	str(&cfg.Storage.User, "DB_USER")
	str(&cfg.Storage.Password, "DB_PASSWORD")
	str(&cfg.Storage.Params, "DB_PARAMS")

	str(&cfg.Pipeline.ConflictPolicy, "S3ETL_CONFLICT_POLICY")
	num(&cfg.Pipeline.BatchSize, "S3ETL_BATCH_SIZE")
	if v := strings.TrimSpace(getenv("S3ETL_ENCODING")); v != "" {
		if cfg.Pipeline.Parser == nil {
			cfg.Pipeline.Parser = Options{}
		}
		cfg.Pipeline.Parser["encoding"] = v
	}

	num(&cfg.Upload.Concurrency, "S3ETL_UPLOAD_CONCURRENCY")
	num(&cfg.Upload.Retries, "S3ETL_UPLOAD_RETRIES")
	flag(&cfg.Upload.DryRun, "S3ETL_DRY_RUN")

	str(&cfg.Metrics.Backend, "S3ETL_METRICS_BACKEND")
	str(&cfg.Metrics.PushgatewayURL, "S3ETL_PUSHGATEWAY_URL")
	str(&cfg.Metrics.DatadogAddr, "S3ETL_DATADOG_ADDR", "DD_DOGSTATSD_URL")

	if len(errs) > 0 {
		return &Error{Message: "environment", Err: errors.Join(errs...)}
	}
	return nil
}

// Bucket returns the bucket for scope (case-insensitive).
func (c *Config) Bucket(scope string) (string, error) {
	switch normScope(scope) {
	case ScopeMBA:
		return c.Buckets.MBA, nil
	case ScopePolicy:
		return c.Buckets.Policy, nil
	}
	return "", &Error{Message: fmt.Sprintf("invalid scope %q", scope)}
}

// Prefix returns the key prefix for scope, always with a trailing slash.
func (c *Config) Prefix(scope string) (string, error) {
	var p string
	switch normScope(scope) {
	case ScopeMBA:
		p = c.Prefixes.MBA
	case ScopePolicy:
		p = c.Prefixes.Policy
	default:
		return "", &Error{Message: fmt.Sprintf("invalid scope %q", scope)}
	}
	p = strings.TrimLeft(p, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p, nil
}

// CSVPrefix is the ETL input prefix for scope: <prefix>csv/.
func (c *Config) CSVPrefix(scope string) (string, error) {
	p, err := c.Prefix(scope)
	if err != nil {
		return "", err
	}
	return p + "csv/", nil
}

func normScope(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// DefaultPort returns the conventional port for a storage kind.
func DefaultPort(kind string) int {
	switch kind {
	case "mysql":
		return 3306
	case "postgres":
		return 5432
	case "mssql":
		return 1433
	}
	return 0
}

// DSN returns Storage.DSN when set, otherwise builds one for the configured
// kind from the discrete fields.
func (c *Config) DSN() string {
	s := c.Storage
	if strings.TrimSpace(s.DSN) != "" {
		return s.DSN
	}
	port := s.Port
	if port == 0 {
		port = DefaultPort(s.Kind)
	}
	hostport := net.JoinHostPort(s.Host, strconv.Itoa(port))

	switch s.Kind {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s", s.User, s.Password, hostport, s.Name)
		if s.Params != "" {
			dsn += "?" + s.Params
		}
		return dsn
	case "postgres":
		u := url.URL{Scheme: "postgres", User: url.UserPassword(s.User, s.Password), Host: hostport, Path: "/" + s.Name, RawQuery: s.Params}
		return u.String()
	case "mssql":
		q := url.Values{}
		q.Set("database", s.Name)
		raw := q.Encode()
		if s.Params != "" {
			raw += "&" + s.Params
		}
		u := url.URL{Scheme: "sqlserver", User: url.UserPassword(s.User, s.Password), Host: hostport, RawQuery: raw}
		return u.String()
	case "sqlite":
		if s.Name == "" {
			return "file:s3etl.db"
		}
		return s.Name
	}
	return ""
}
