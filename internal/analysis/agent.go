package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/swamp-dev/sqlquest/internal/agent"
	"github.com/swamp-dev/sqlquest/internal/config"
	"github.com/swamp-dev/sqlquest/internal/container"
	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

// containerRunner runs a container to completion and returns its output.
type containerRunner interface {
	Run(ctx context.Context, cfg *container.ContainerConfig) (string, error)
}

// AgentReviewer runs an agent CLI in a container for each file.
type AgentReviewer struct {
	agent     agent.Agent
	cfg       *config.Config
	container containerRunner
	mountPath string
	logger    *slog.Logger
}

// NewAgentReviewer creates an analyzer backed by agentName. mountPath, when
// set, is mounted read-only so the agent can look at neighbouring files.
func NewAgentReviewer(agentName string, cfg *config.Config, cm containerRunner, mountPath string, logger *slog.Logger) (*AgentReviewer, error) {
	ag, err := agent.New(agentName)
	if err != nil {
		return nil, fmt.Errorf("creating analysis agent: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentReviewer{
		agent:     ag,
		cfg:       cfg,
		container: cm,
		mountPath: mountPath,
		logger:    logger,
	}, nil
}

// Analyze runs the agent on the file and parses its reply.
func (r *AgentReviewer) Analyze(ctx context.Context, req Request) (*evaluation.Analysis, error) {
	prompt := systemInstruction + "\n\n" + buildPrompt(req)

	containerCfg, err := container.AgentContainerConfig(r.cfg, r.mountPath, r.agent.Command(prompt), r.agent.Environment())
	if err != nil {
		return nil, fmt.Errorf("configuring analysis container: %w", err)
	}

	if timeout := r.cfg.AnalysisTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r.logger.Debug("running analysis agent", "agent", r.agent.Name(), "file", req.File.Key())

	output, err := r.container.Run(ctx, containerCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: running %s: %v", evaluation.ErrAnalysis, r.agent.Name(), err)
	}

	return parseAnalysis(r.agent.Response(output), r.agent.Name())
}
