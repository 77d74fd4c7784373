package runner

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/votemap/secroll/roll"
	"github.com/votemap/secroll/session"
)

// Config is the full pipeline configuration, loaded once at startup and
// never mutated afterwards.
type Config struct {
	// BaseURL is the portal root; FormURL the voter-list search form.
	BaseURL string `yaml:"base_url"`
	FormURL string `yaml:"form_url"`

	// District and LocalBody sit above the ward level of the cascade.
	District  string `yaml:"district"`
	LocalBody string `yaml:"local_body"`

	// Language is the list language code (e.g. "ml").
	Language string `yaml:"language"`

	// Wards are the administrative units to acquire.
	Wards []roll.Ward `yaml:"wards"`

	// OutputDir is where the CSV sink writes per-station files.
	OutputDir string `yaml:"output_dir"`

	// StateDB is the checkpoint database path.
	StateDB string `yaml:"state_db"`

	// DelayBetweenRequests is the scheduler's minimum inter-request
	// spacing. Default: 3s.
	DelayBetweenRequests time.Duration `yaml:"delay_between_requests"`

	// BackoffBase and BackoffCap shape the failure backoff.
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`

	// MaxCaptchaRetries bounds attempts per station. Default: 8.
	MaxCaptchaRetries int `yaml:"max_captcha_retries"`

	// ResultWait bounds the wait for results after a submit.
	ResultWait time.Duration `yaml:"result_wait"`

	// StatusAddr enables the read-only status endpoint when set,
	// e.g. "127.0.0.1:8931".
	StatusAddr string `yaml:"status_addr"`

	Browser   session.BrowserConfig `yaml:"browser"`
	Selectors session.Selectors     `yaml:"selectors"`
	Solver    SolverConfig          `yaml:"solver"`
}

// SolverConfig locates the vision endpoint. The key itself never lives
// in the YAML file; KeyEnv names the environment variable carrying it.
type SolverConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
	KeyEnv     string `yaml:"key_env"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runner: read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("runner: parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "voters_output"
	}
	if c.StateDB == "" {
		c.StateDB = "secroll_state.db"
	}
	if c.DelayBetweenRequests <= 0 {
		c.DelayBetweenRequests = 3 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 2 * time.Minute
	}
	if c.MaxCaptchaRetries <= 0 {
		c.MaxCaptchaRetries = 8
	}
	if c.ResultWait <= 0 {
		c.ResultWait = 60 * time.Second
	}
	if c.Language == "" {
		c.Language = "ml"
	}
	if c.Solver.KeyEnv == "" {
		c.Solver.KeyEnv = "SECROLL_SOLVER_KEY"
	}
}

func (c *Config) validate() error {
	switch {
	case c.FormURL == "":
		return fmt.Errorf("runner: config: form_url is required")
	case c.District == "":
		return fmt.Errorf("runner: config: district is required")
	case c.LocalBody == "":
		return fmt.Errorf("runner: config: local_body is required")
	case len(c.Wards) == 0:
		return fmt.Errorf("runner: config: at least one ward is required")
	}
	for i, w := range c.Wards {
		if w.ID == "" {
			return fmt.Errorf("runner: config: ward %d has no id", i)
		}
	}
	return nil
}

// SolverKey reads the solver credential from the configured environment
// variable.
func (c *Config) SolverKey() string {
	return os.Getenv(c.Solver.KeyEnv)
}
