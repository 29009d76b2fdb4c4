package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/swamp-dev/sqlquest/internal/config"
)

var (
	initRoot    string
	initBackend string
	initDriver  string
	initSample  bool
	initForce   bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a sqlquest.yaml and an example quest",
	Long: `Initialize creates the files needed to evaluate exercises in the current
directory.

This includes:
- sqlquest.yaml - configuration file
- <root>/getting_started/basics/01_select.sql - an example exercise
- .sqlquest/ is created on the first evaluate run and should be git-ignored

Examples:
  sqlquest init
  sqlquest init --root exercises --backend fallback
  sqlquest init --driver postgres --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initRoot, "root", "quests", "quests root directory")
	initCmd.Flags().StringVar(&initBackend, "backend", "genai", "analysis backend (genai, agent, fallback)")
	initCmd.Flags().StringVar(&initDriver, "driver", "sqlite", "sandbox driver (sqlite, postgres)")
	initCmd.Flags().BoolVar(&initSample, "sample", true, "write an example quest")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing files")
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	logger.Info("initializing sqlquest project",
		"root", initRoot,
		"backend", initBackend,
		"driver", initDriver,
	)

	created, err := createConfigFile(cwd)
	if err != nil {
		return err
	}
	var files []string
	if created {
		files = append(files, config.FileName+"  (configuration)")
	}

	if initSample {
		path, err := createSampleQuest(filepath.Join(cwd, initRoot))
		if err != nil {
			return err
		}
		if path != "" {
			rel, _ := filepath.Rel(cwd, path)
			files = append(files, rel+"  (example exercise)")
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n✓ Initialized sqlquest in %s\n", cwd)
	if len(files) > 0 {
		fmt.Fprintln(out, "\nCreated files:")
		for _, f := range files {
			fmt.Fprintf(out, "  - %s\n", f)
		}
	}
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Add .sql exercises under %s/<quest>/<subcategory>/\n", initRoot)
	fmt.Fprintln(out, "  2. Run 'sqlquest evaluate' to score them")

	return nil
}

// createConfigFile writes sqlquest.yaml unless it exists. It reports whether
// a file was written.
func createConfigFile(dir string) (bool, error) {
	path := filepath.Join(dir, config.FileName)

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			logger.Info(config.FileName + " already exists, skipping")
			return false, nil
		}
	}

	cfg := config.DefaultConfig()
	cfg.Quests.Root = initRoot
	cfg.Analysis.Backend = initBackend
	cfg.Sandbox.Driver = initDriver
	if initDriver == "postgres" {
		cfg.Sandbox.Docker = true
	}

	if err := cfg.Validate(); err != nil {
		return false, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Save(path); err != nil {
		return false, fmt.Errorf("creating config file: %w", err)
	}

	logger.Info("created " + config.FileName)
	return true, nil
}

const sampleExercise = `-- Select every column from a small table, then only the rows you need.
-- Quest: getting started

CREATE TABLE books (
    id     INTEGER PRIMARY KEY,
    title  TEXT NOT NULL,
    author TEXT NOT NULL,
    year   INTEGER
);

INSERT INTO books (id, title, author, year) VALUES
    (1, 'The Pragmatic Programmer', 'Hunt', 1999),
    (2, 'Designing Data-Intensive Applications', 'Kleppmann', 2017),
    (3, 'SQL Antipatterns', 'Karwin', 2010);

SELECT * FROM books;

SELECT title, year FROM books WHERE year > 2000 ORDER BY year;
`

// createSampleQuest writes one example exercise and returns its path, or ""
// when it already exists.
func createSampleQuest(root string) (string, error) {
	dir := filepath.Join(root, "getting_started", "basics")
	path := filepath.Join(dir, "01_select.sql")

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			logger.Info("example exercise already exists, skipping")
			return "", nil
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating quest directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleExercise), 0o644); err != nil {
		return "", fmt.Errorf("creating example exercise: %w", err)
	}

	logger.Info("created example exercise", "path", path)
	return path, nil
}
