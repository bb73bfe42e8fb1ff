// Package config holds the explicit configuration passed into every engine
// component at construction time. Nothing in the engine reads ambient state;
// the command layer loads one Config and hands it down.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can use Go duration strings
// ("15s", "2m") instead of raw nanosecond counts.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// EvaluationMode selects how the permission evaluator combines privileges
// across a user's roles.
type EvaluationMode string

const (
	// ModePerRole requires a single role to satisfy the whole requested
	// privilege set. This matches the behavior of the original tooling.
	ModePerRole EvaluationMode = "per-role"
	// ModeGlobalUnion satisfies a request from the union of all roles.
	ModeGlobalUnion EvaluationMode = "global-union"
)

// Config is the full engine configuration.
type Config struct {
	// API is the connection to the backing cluster's security API.
	API APIConfig `yaml:"api"`
	// CertDir is where certificate/key PEM pairs are stored, one pair per domain.
	CertDir string `yaml:"cert_dir"`
	// AuditLogPath is the append-only audit log file.
	AuditLogPath string `yaml:"audit_log_path"`
	// ReportDir receives generated HTML/JSON report artifacts.
	ReportDir string `yaml:"report_dir"`
	// CredentialsPath is the write-once bootstrap credentials file.
	CredentialsPath string `yaml:"credentials_path"`
	// Evaluation selects the privilege-combination policy.
	Evaluation EvaluationMode `yaml:"evaluation_mode"`
}

// APIConfig configures the security API client.
type APIConfig struct {
	BaseURL  string   `yaml:"base_url"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Timeout  Duration `yaml:"timeout"`
	// MutationsPerSecond bounds the rate of mutating calls; zero disables
	// client-side rate limiting.
	MutationsPerSecond int `yaml:"mutations_per_second"`
	MutationBurst      int `yaml:"mutation_burst"`
}

// Default returns a Config with working defaults for a local cluster.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "https://localhost:9200",
			Timeout: Duration(15 * time.Second),
		},
		CertDir:         "certs",
		AuditLogPath:    "audit.log",
		ReportDir:       "reports",
		CredentialsPath: "bootstrap-credentials.json",
		Evaluation:      ModePerRole,
	}
}

// Load reads a YAML config file and applies environment overrides for the
// secrets that should not live on disk (CLUSTERSEC_API_USERNAME,
// CLUSTERSEC_API_PASSWORD). A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("CLUSTERSEC_API_USERNAME")); v != "" {
		cfg.API.Username = v
	}
	if v := strings.TrimSpace(os.Getenv("CLUSTERSEC_API_PASSWORD")); v != "" {
		cfg.API.Password = v
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("config: api.base_url is required")
	}
	if c.API.Timeout <= 0 {
		return errors.New("config: api.timeout must be positive")
	}
	switch c.Evaluation {
	case ModePerRole, ModeGlobalUnion:
	case "":
		return errors.New("config: evaluation_mode is required")
	default:
		return fmt.Errorf("config: unsupported evaluation_mode %q", c.Evaluation)
	}
	return nil
}
