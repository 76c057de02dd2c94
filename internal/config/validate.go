package config

import (
	"fmt"
	"net/url"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks startup.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is a dotted path into the
// config (e.g. "storage.kind", "tables[1].patterns").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static checks and returns every finding. It does not
// mutate cfg.
func Validate(cfg *Config) []Issue {
	var issues []Issue
	issues = append(issues, validateAWS(cfg)...)
	issues = append(issues, validateStorage(cfg.Storage)...)
	issues = append(issues, validatePipeline(cfg.Pipeline)...)
	issues = append(issues, validateUpload(cfg.Upload)...)
	issues = append(issues, validateMetrics(cfg.Metrics)...)
	issues = append(issues, validateTables(cfg.Tables)...)
	return issues
}

// Check returns a *Error carrying every error-severity issue, or nil.
func Check(cfg *Config) error {
	var errs []Issue
	for _, iss := range Validate(cfg) {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &Error{Message: fmt.Sprintf("%d invalid setting(s)", len(errs)), Issues: errs}
}

func errorf(path, format string, args ...any) Issue {
	return Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)}
}

func warnf(path, format string, args ...any) Issue {
	return Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)}
}

func validateAWS(cfg *Config) []Issue {
	var issues []Issue
	a := cfg.AWS
	switch a.Store {
	case "", "s3":
		if strings.TrimSpace(a.Region) == "" && a.Endpoint == "" {
			issues = append(issues, errorf("aws.region", "region must not be empty"))
		}
		if (a.AccessKeyID == "") != (a.SecretAccessKey == "") {
			issues = append(issues, errorf("aws.access_key_id", "access_key_id and secret_access_key must be set together"))
		}
	case "local":
		if strings.TrimSpace(a.LocalRoot) == "" {
			issues = append(issues, errorf("aws.local_root", "local store requires local_root"))
		}
	default:
		issues = append(issues, errorf("aws.store", "unknown store %q (want s3 or local)", a.Store))
	}
	switch strings.ToUpper(a.SSE) {
	case "", "AES256":
	default:
		issues = append(issues, warnf("aws.sse", "unsupported SSE %q; uploads will not request encryption", a.SSE))
	}
	if cfg.Buckets.MBA == "" {
		issues = append(issues, errorf("buckets.mba", "bucket must not be empty"))
	}
	if cfg.Buckets.Policy == "" {
		issues = append(issues, warnf("buckets.policy", "bucket is empty; policy scope is unusable"))
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue
	switch s.Kind {
	case "mysql", "postgres", "mssql":
		if s.DSN == "" {
			if s.Host == "" {
				issues = append(issues, errorf("storage.host", "host is required when dsn is empty"))
			}
			if s.Name == "" {
				issues = append(issues, errorf("storage.name", "database name is required when dsn is empty"))
			}
		}
	case "sqlite":
	case "":
		issues = append(issues, errorf("storage.kind", "storage.kind must not be empty"))
	default:
		issues = append(issues, errorf("storage.kind", "unknown storage kind %q", s.Kind))
	}
	if s.Port < 0 || s.Port > 65535 {
		issues = append(issues, errorf("storage.port", "port %d out of range", s.Port))
	}
	if s.Params != "" {
		if _, err := url.ParseQuery(s.Params); err != nil {
			issues = append(issues, errorf("storage.params", "params must be a query string: %v", err))
		}
	}
	return issues
}

func validatePipeline(p Pipeline) []Issue {
	var issues []Issue
	if !strings.HasPrefix(p.Extension, ".") {
		issues = append(issues, errorf("pipeline.extension", "extension must start with a dot, got %q", p.Extension))
	}
	switch p.ConflictPolicy {
	case "update", "ignore", "append":
	default:
		issues = append(issues, errorf("pipeline.conflict_policy", "unknown conflict policy %q (want update, ignore or append)", p.ConflictPolicy))
	}
	if p.BatchSize <= 0 {
		issues = append(issues, errorf("pipeline.batch_size", "batch_size must be > 0"))
	}
	if c := p.Parser.String("comma", ","); len([]rune(c)) != 1 && c != `\t` && c != "tab" {
		issues = append(issues, errorf("pipeline.parser.comma", "comma must be a single character"))
	}
	if p.Parser.Int("max_bytes", 1) <= 0 {
		issues = append(issues, warnf("pipeline.parser.max_bytes", "size limit disabled"))
	}
	return issues
}

func validateUpload(u Upload) []Issue {
	var issues []Issue
	if u.Concurrency < 1 || u.Concurrency > 32 {
		issues = append(issues, warnf("upload.concurrency", "concurrency %d will be clamped to 1..32", u.Concurrency))
	}
	if u.Retries < 1 {
		issues = append(issues, errorf("upload.retries", "retries must be >= 1"))
	}
	if u.RatePerSec < 0 {
		issues = append(issues, errorf("upload.rate_per_sec", "rate must not be negative"))
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	switch m.Backend {
	case "", "none":
	case "prometheus":
		if m.PushgatewayURL == "" {
			issues = append(issues, errorf("metrics.pushgateway_url", "prometheus backend requires pushgateway_url"))
		}
	case "datadog":
		if m.DatadogAddr == "" {
			issues = append(issues, warnf("metrics.datadog_addr", "datadog_addr empty; the client default is used"))
		}
	default:
		issues = append(issues, errorf("metrics.backend", "unknown metrics backend %q", m.Backend))
	}
	return issues
}

func validateTables(tables []Table) []Issue {
	var issues []Issue
	for i, t := range tables {
		base := fmt.Sprintf("tables[%d]", i)
		if strings.TrimSpace(t.Table) == "" {
			issues = append(issues, errorf(base+".table", "table must not be empty"))
		}
		if len(t.Patterns) == 0 {
			issues = append(issues, errorf(base+".patterns", "at least one pattern is required"))
		}
		if len(t.Keys) == 0 {
			issues = append(issues, warnf(base+".keys", "no key columns; update/ignore policies need a unique key on the table"))
		}
		for j, d := range t.Derive {
			if d.Target == "" || d.Source == "" || d.Pattern == "" {
				issues = append(issues, errorf(fmt.Sprintf("%s.derive[%d]", base, j), "target, source and pattern are required"))
			}
		}
	}
	return issues
}
