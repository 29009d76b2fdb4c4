package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/swamp-dev/sqlquest/internal/config"
	"github.com/swamp-dev/sqlquest/internal/container"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Manage sandbox and analysis Docker images",
	Long: `Sandbox provides commands for the Docker images sqlquest runs.

Subcommands:
  list  - Show whether the configured images are present
  pull  - Pull the configured images`,
}

var sandboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the configured images",
	RunE:  runSandboxList,
}

var sandboxPullCmd = &cobra.Command{
	Use:   "pull [image...]",
	Short: "Pull sandbox images",
	Long: `Pull downloads the Postgres sandbox image and, when the agent analysis
backend is configured, the agent image.

Examples:
  sqlquest sandbox pull
  sqlquest sandbox pull postgres:15-alpine`,
	RunE: runSandboxPull,
}

func init() {
	sandboxCmd.AddCommand(sandboxListCmd)
	sandboxCmd.AddCommand(sandboxPullCmd)
}

type sandboxImage struct {
	Ref         string
	Description string
}

// configuredImages lists the images cfg needs.
func configuredImages(cfg *config.Config) []sandboxImage {
	images := []sandboxImage{
		{container.ImageName(cfg.Sandbox.Image), "Postgres sandbox (sandbox.driver: postgres, docker: true)"},
	}
	if cfg.Analysis.Backend == "agent" {
		images = append(images, sandboxImage{
			container.ImageName(cfg.Analysis.AgentImage), "Agent analysis (analysis.backend: agent)",
		})
	}
	return images
}

func runSandboxList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cm, err := container.NewManager()
	if err != nil {
		return fmt.Errorf("creating container manager: %w", err)
	}
	defer cm.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-28s %-14s %s\n", "IMAGE", "STATUS", "USED FOR")
	for _, img := range configuredImages(cfg) {
		status := "not installed"
		ok, err := cm.HasImage(cmd.Context(), img.Ref)
		if err != nil {
			return err
		}
		if ok {
			status = "installed"
		}
		fmt.Fprintf(out, "%-28s %-14s %s\n", img.Ref, status, img.Description)
	}
	fmt.Fprintln(out, "\nUse 'sqlquest sandbox pull' to download images")
	return nil
}

func runSandboxPull(cmd *cobra.Command, args []string) error {
	var refs []string
	if len(args) > 0 {
		for _, a := range args {
			refs = append(refs, container.ImageName(a))
		}
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		for _, img := range configuredImages(cfg) {
			refs = append(refs, img.Ref)
		}
	}

	cm, err := container.NewManager()
	if err != nil {
		return fmt.Errorf("creating container manager: %w", err)
	}
	defer cm.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	failed := 0
	for _, ref := range refs {
		logger.Info("pulling image", "image", ref)
		if err := cm.Pull(ctx, ref, os.Stdout); err != nil {
			logger.Error("failed to pull image", "image", ref, "error", err)
			failed++
			continue
		}
		fmt.Println()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d image(s) failed to pull", failed, len(refs))
	}
	return nil
}
