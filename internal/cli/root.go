// Package cli provides the command-line interface for sqlquest.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/swamp-dev/sqlquest/internal/config"
)

var (
	cfgFile string
	verbose bool
	logger  = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "sqlquest",
	Short: "Evaluate SQL learning exercises",
	Long: `Sqlquest runs a tree of SQL exercise files against disposable sandbox
databases, has each one reviewed by an AI analysis backend, and records
scores, grades, and recommendations per file and per quest.

Results are cached by file content so unchanged exercises are skipped on
the next run.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logLevel := slog.LevelInfo
		if verbose {
			logLevel = slog.LevelDebug
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sqlquest.yaml or the nearest parent's)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(sandboxCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig wires SQLQUEST_* environment variables into viper. The YAML
// file itself is parsed by config.Load; viper only carries overrides.
func initConfig() {
	viper.SetEnvPrefix("SQLQUEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the config file, applies environment and flag overrides,
// resolves relative paths, and validates the result.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if found, err := config.FindConfigFile(); err == nil {
			path = found
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := applyOverrides(cfg); err != nil {
		return nil, err
	}

	baseDir := "."
	if path != "" {
		baseDir = filepath.Dir(path)
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config directory: %w", err)
	}
	cfg.ResolvePaths(absBase)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if path != "" {
		logger.Debug("using config file", "path", path)
	}
	return cfg, nil
}

// applyOverrides copies values set through SQLQUEST_* variables or bound
// flags onto cfg. Path overrides are relative to the working directory.
func applyOverrides(cfg *config.Config) error {
	if viper.IsSet("quests.root") {
		root, err := filepath.Abs(viper.GetString("quests.root"))
		if err != nil {
			return fmt.Errorf("resolving quests root: %w", err)
		}
		cfg.Quests.Root = root
	}
	if viper.IsSet("evaluation.max_concurrent_files") {
		cfg.Evaluation.MaxConcurrentFiles = viper.GetInt("evaluation.max_concurrent_files")
		if cfg.Sandbox.MaxOpenConns > cfg.Evaluation.MaxConcurrentFiles {
			cfg.Sandbox.MaxOpenConns = cfg.Evaluation.MaxConcurrentFiles
		}
	}
	if viper.IsSet("evaluation.mode") {
		cfg.Evaluation.Mode = viper.GetString("evaluation.mode")
	}
	if viper.IsSet("sandbox.driver") {
		cfg.Sandbox.Driver = viper.GetString("sandbox.driver")
	}
	if viper.IsSet("sandbox.dsn") {
		cfg.Sandbox.DSN = viper.GetString("sandbox.dsn")
	}
	if viper.IsSet("sandbox.docker") {
		cfg.Sandbox.Docker = viper.GetBool("sandbox.docker")
	}
	if viper.IsSet("analysis.backend") {
		cfg.Analysis.Backend = viper.GetString("analysis.backend")
	}
	if viper.IsSet("analysis.model") {
		cfg.Analysis.Model = viper.GetString("analysis.model")
	}
	if viper.IsSet("store.path") {
		p, err := filepath.Abs(viper.GetString("store.path"))
		if err != nil {
			return fmt.Errorf("resolving store path: %w", err)
		}
		cfg.Store.Path = p
	}
	return nil
}
