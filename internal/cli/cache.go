package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swamp-dev/sqlquest/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear cached results",
	Long: `Cache provides commands for the content-hash result cache.

Subcommands:
  stats  - Show how many results are cached and how much space they use
  clear  - Delete every cached result`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached result",
	RunE:  runCacheClear,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openCache() (*cache.Cache, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cache.New(cfg.Cache.Dir, cache.Options{
		Enabled:      cfg.Cache.Enabled,
		ShortCircuit: cfg.Cache.ShortCircuit,
	}, logger), nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}

	stats, err := c.Stats()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Directory: %s\n", stats.Dir)
	fmt.Fprintf(out, "Enabled:   %v\n", c.Enabled())
	fmt.Fprintf(out, "Entries:   %d\n", stats.Entries)
	fmt.Fprintf(out, "Size:      %s\n", formatBytes(stats.Bytes))
	if stats.Entries > 0 {
		fmt.Fprintf(out, "Oldest:    %s\n", stats.Oldest.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Newest:    %s\n", stats.Newest.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}

	removed, err := c.Clear()
	if err != nil {
		return err
	}
	logger.Info("cleared cache", "dir", c.Dir(), "removed", removed)
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached result(s) from %s\n", removed, c.Dir())
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
