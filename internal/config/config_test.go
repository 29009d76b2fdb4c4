package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != "1.0" {
		t.Errorf("expected version 1.0, got %s", cfg.Version)
	}

	if cfg.Evaluation.MaxConcurrentFiles != 3 {
		t.Errorf("expected max_concurrent_files 3, got %d", cfg.Evaluation.MaxConcurrentFiles)
	}

	if cfg.Mode() != evaluation.ModeNonAtomic {
		t.Errorf("expected non_atomic mode, got %s", cfg.Mode())
	}

	if cfg.Sandbox.Driver != "sqlite" {
		t.Errorf("expected sqlite sandbox, got %s", cfg.Sandbox.Driver)
	}

	if !cfg.Cache.Enabled || !cfg.Cache.ShortCircuit {
		t.Error("expected cache enabled with short circuit by default")
	}

	if cfg.BatchDelay() != 2*time.Second {
		t.Errorf("expected batch delay 2s, got %v", cfg.BatchDelay())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero concurrency",
			modify:  func(c *Config) { c.Evaluation.MaxConcurrentFiles = 0 },
			wantErr: true,
		},
		{
			name:    "invalid mode",
			modify:  func(c *Config) { c.Evaluation.Mode = "sometimes" },
			wantErr: true,
		},
		{
			name:    "atomic mode",
			modify:  func(c *Config) { c.Evaluation.Mode = "atomic" },
			wantErr: false,
		},
		{
			name:    "invalid driver",
			modify:  func(c *Config) { c.Sandbox.Driver = "oracle" },
			wantErr: true,
		},
		{
			name:    "postgres without dsn or docker",
			modify:  func(c *Config) { c.Sandbox.Driver = "postgres" },
			wantErr: true,
		},
		{
			name: "postgres in docker",
			modify: func(c *Config) {
				c.Sandbox.Driver = "postgres"
				c.Sandbox.Docker = true
			},
			wantErr: false,
		},
		{
			name: "pool larger than concurrency",
			modify: func(c *Config) {
				c.Evaluation.MaxConcurrentFiles = 2
				c.Sandbox.MaxOpenConns = 4
			},
			wantErr: true,
		},
		{
			name:    "invalid backend",
			modify:  func(c *Config) { c.Analysis.Backend = "oracle" },
			wantErr: true,
		},
		{
			name: "agent backend with bad network",
			modify: func(c *Config) {
				c.Analysis.Backend = "agent"
				c.Analysis.Network = "wifi"
			},
			wantErr: true,
		},
		{
			name:    "bad batch delay",
			modify:  func(c *Config) { c.Evaluation.BatchDelay = "soon" },
			wantErr: true,
		},
		{
			name:    "negative quest delay",
			modify:  func(c *Config) { c.Evaluation.QuestDelay = "-1s" },
			wantErr: true,
		},
		{
			name:    "fallback backend",
			modify:  func(c *Config) { c.Analysis.Backend = "fallback" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAndSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	cfg := DefaultConfig()
	cfg.Quests.Root = "exercises"
	cfg.Evaluation.MaxConcurrentFiles = 5

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Quests.Root != "exercises" {
		t.Errorf("expected quests root exercises, got %s", loaded.Quests.Root)
	}
	if loaded.Evaluation.MaxConcurrentFiles != 5 {
		t.Errorf("expected max_concurrent_files 5, got %d", loaded.Evaluation.MaxConcurrentFiles)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte("evaluation:\n  mode: atomic\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode() != evaluation.ModeAtomic {
		t.Errorf("expected atomic, got %s", cfg.Mode())
	}
	if cfg.Analysis.Backend != "genai" {
		t.Errorf("expected default backend genai, got %s", cfg.Analysis.Backend)
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/sqlquest.yaml")
	if err != nil {
		t.Fatalf("Load() should not error for missing file, got %v", err)
	}

	if cfg.Sandbox.Driver != "sqlite" {
		t.Errorf("expected default driver sqlite, got %s", cfg.Sandbox.Driver)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("evaluation: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestResolvePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Path = "/var/lib/sqlquest.db"
	cfg.ResolvePaths("/work")

	if cfg.Quests.Root != filepath.Join("/work", "quests") {
		t.Errorf("unexpected quests root %s", cfg.Quests.Root)
	}
	if cfg.Store.Path != "/var/lib/sqlquest.db" {
		t.Errorf("absolute path should be kept, got %s", cfg.Store.Path)
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	subdir := filepath.Join(dir, "subdir")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}

	configPath := filepath.Join(dir, FileName)
	if err := os.WriteFile(configPath, []byte("version: '1.0'"), 0644); err != nil {
		t.Fatal(err)
	}

	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	if err := os.Chdir(subdir); err != nil {
		t.Fatal(err)
	}

	found, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() error = %v", err)
	}

	if found != configPath {
		t.Errorf("expected %s, got %s", configPath, found)
	}
}
