// Package config handles sqlquest configuration parsing and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

// FileName is the default configuration file name.
const FileName = "sqlquest.yaml"

// Config represents the sqlquest.yaml configuration file.
type Config struct {
	Version    string           `yaml:"version"`
	Quests     QuestsConfig     `yaml:"quests"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Cache      CacheConfig      `yaml:"cache"`
	Output     OutputConfig     `yaml:"output"`
	Store      StoreConfig      `yaml:"store"`
	Budget     BudgetConfig     `yaml:"budget,omitempty"`
}

// QuestsConfig locates the exercise tree.
type QuestsConfig struct {
	Root    string   `yaml:"root"`
	Exclude []string `yaml:"exclude"`
}

// EvaluationConfig controls batching and pacing.
type EvaluationConfig struct {
	MaxConcurrentFiles int    `yaml:"max_concurrent_files"`
	BatchDelay         string `yaml:"batch_delay"`
	QuestDelay         string `yaml:"quest_delay"`
	Mode               string `yaml:"mode"` // atomic, non_atomic

	// AdaptiveDelay stretches batch_delay after batches whose analyses fell
	// back, up to max_batch_delay.
	AdaptiveDelay bool   `yaml:"adaptive_delay"`
	MaxBatchDelay string `yaml:"max_batch_delay,omitempty"`
}

// SandboxConfig selects the database the exercises run against.
type SandboxConfig struct {
	Driver           string          `yaml:"driver"` // sqlite, postgres
	// DSN for postgres without docker. With sqlite it selects a shared
	// database file whose state carries from one exercise to the next.
	DSN              string          `yaml:"dsn,omitempty"`
	Docker           bool            `yaml:"docker"`
	Image            string          `yaml:"image"`
	StatementTimeout string          `yaml:"statement_timeout"`
	MaxOpenConns     int             `yaml:"max_open_conns"`
	PreviewRows      int             `yaml:"preview_rows"`
	Resources        ResourcesConfig `yaml:"resources"`
}

// ResourcesConfig sets container resource limits.
type ResourcesConfig struct {
	Memory string `yaml:"memory"`
	CPUs   string `yaml:"cpus"`
}

// AnalysisConfig selects and tunes the AI analysis backend.
type AnalysisConfig struct {
	Backend           string `yaml:"backend"` // genai, agent, fallback
	Model             string `yaml:"model"`
	APIKeyEnv         string `yaml:"api_key_env"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Timeout           string `yaml:"timeout"`
	Agent             string `yaml:"agent"` // claude, amp, aider (agent backend only)
	AgentImage        string `yaml:"agent_image"`
	Network           string `yaml:"network"` // none, bridge, host
}

// CacheConfig controls the content-hash result cache.
type CacheConfig struct {
	Dir          string `yaml:"dir"`
	Enabled      bool   `yaml:"enabled"`
	ShortCircuit bool   `yaml:"short_circuit"`
}

// OutputConfig controls where per-file JSON artifacts are written.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// StoreConfig locates the evaluation database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// BudgetConfig limits a single run. Zero values mean unlimited.
type BudgetConfig struct {
	MaxFiles    int    `yaml:"max_files"`
	MaxDuration string `yaml:"max_duration"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0",
		Quests: QuestsConfig{
			Root:    "quests",
			Exclude: []string{".git", "node_modules", ".sqlquest"},
		},
		Evaluation: EvaluationConfig{
			MaxConcurrentFiles: 3,
			BatchDelay:         "2s",
			QuestDelay:         "5s",
			Mode:               string(evaluation.ModeNonAtomic),
		},
		Sandbox: SandboxConfig{
			Driver:           "sqlite",
			Image:            "postgres:16-alpine",
			StatementTimeout: "10s",
			MaxOpenConns:     3,
			PreviewRows:      10,
			Resources: ResourcesConfig{
				Memory: "512m",
				CPUs:   "1",
			},
		},
		Analysis: AnalysisConfig{
			Backend:           "genai",
			Model:             "gemini-2.5-flash",
			APIKeyEnv:         "GEMINI_API_KEY",
			RequestsPerMinute: 30,
			Timeout:           "60s",
			Agent:             "claude",
			AgentImage:        "agentbox/full:latest",
			Network:           "bridge",
		},
		Cache: CacheConfig{
			Dir:          ".sqlquest/cache",
			Enabled:      true,
			ShortCircuit: true,
		},
		Output: OutputConfig{
			Dir: ".sqlquest/results",
		},
		Store: StoreConfig{
			Path: ".sqlquest/sqlquest.db",
		},
	}
}

// Load reads and parses the sqlquest.yaml config file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = FileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the specified path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Evaluation.MaxConcurrentFiles < 1 {
		return fmt.Errorf("max_concurrent_files must be at least 1")
	}

	if !evaluation.ExecutionMode(c.Evaluation.Mode).Valid() {
		return fmt.Errorf("invalid mode: %s (must be atomic or non_atomic)", c.Evaluation.Mode)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[c.Sandbox.Driver] {
		return fmt.Errorf("invalid sandbox driver: %s (must be sqlite or postgres)", c.Sandbox.Driver)
	}

	if c.Sandbox.Driver == "postgres" && c.Sandbox.DSN == "" && !c.Sandbox.Docker {
		return fmt.Errorf("postgres sandbox needs either dsn or docker: true")
	}

	if c.Sandbox.MaxOpenConns < 1 {
		return fmt.Errorf("sandbox max_open_conns must be at least 1")
	}
	if c.Sandbox.MaxOpenConns > c.Evaluation.MaxConcurrentFiles {
		return fmt.Errorf("sandbox max_open_conns (%d) must not exceed max_concurrent_files (%d)",
			c.Sandbox.MaxOpenConns, c.Evaluation.MaxConcurrentFiles)
	}

	validBackends := map[string]bool{"genai": true, "agent": true, "fallback": true}
	if !validBackends[c.Analysis.Backend] {
		return fmt.Errorf("invalid analysis backend: %s (must be genai, agent, or fallback)", c.Analysis.Backend)
	}

	validNetworks := map[string]bool{"none": true, "bridge": true, "host": true}
	if c.Analysis.Backend == "agent" && !validNetworks[c.Analysis.Network] {
		return fmt.Errorf("invalid network: %s (must be none, bridge, or host)", c.Analysis.Network)
	}

	if c.Analysis.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}

	for name, value := range map[string]string{
		"batch_delay":       c.Evaluation.BatchDelay,
		"quest_delay":       c.Evaluation.QuestDelay,
		"max_batch_delay":   c.Evaluation.MaxBatchDelay,
		"statement_timeout": c.Sandbox.StatementTimeout,
		"analysis timeout":  c.Analysis.Timeout,
		"max_duration":      c.Budget.MaxDuration,
	} {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	return nil
}

// BatchDelay returns the pause between batches inside a quest.
func (c *Config) BatchDelay() time.Duration {
	d, _ := parseDuration(c.Evaluation.BatchDelay)
	return d
}

// MaxBatchDelay returns the ceiling for adaptive batch delays. It defaults to
// eight times the batch delay.
func (c *Config) MaxBatchDelay() time.Duration {
	d, _ := parseDuration(c.Evaluation.MaxBatchDelay)
	if d == 0 {
		d = 8 * c.BatchDelay()
	}
	return d
}

// QuestDelay returns the pause between quests.
func (c *Config) QuestDelay() time.Duration {
	d, _ := parseDuration(c.Evaluation.QuestDelay)
	return d
}

// StatementTimeout returns the per-statement sandbox timeout.
func (c *Config) StatementTimeout() time.Duration {
	d, _ := parseDuration(c.Sandbox.StatementTimeout)
	return d
}

// AnalysisTimeout returns the per-call analysis timeout.
func (c *Config) AnalysisTimeout() time.Duration {
	d, _ := parseDuration(c.Analysis.Timeout)
	return d
}

// MaxRunDuration returns the run budget duration, zero when unlimited.
func (c *Config) MaxRunDuration() time.Duration {
	d, _ := parseDuration(c.Budget.MaxDuration)
	return d
}

// Mode returns the configured execution mode.
func (c *Config) Mode() evaluation.ExecutionMode {
	return evaluation.ExecutionMode(c.Evaluation.Mode)
}

// ResolvePaths makes relative paths absolute against baseDir.
func (c *Config) ResolvePaths(baseDir string) {
	for _, p := range []*string{&c.Quests.Root, &c.Cache.Dir, &c.Output.Dir, &c.Store.Path} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %s is negative", s)
	}
	return d, nil
}

// FindConfigFile searches for sqlquest.yaml in current and parent directories.
func FindConfigFile() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for dir := cwd; ; dir = filepath.Dir(dir) {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		if dir == filepath.Dir(dir) {
			break
		}
	}

	return "", fmt.Errorf("%s not found in %s or parent directories", FileName, cwd)
}
