// Package agent provides adapters for the AI coding agent CLIs that can
// review exercise files from inside a container.
package agent

import (
	"fmt"
	"os"
	"strings"
)

// Agent defines the interface that all AI agent adapters must implement.
type Agent interface {
	// Name returns the agent identifier.
	Name() string

	// Command returns the command and arguments for a one-shot prompt.
	Command(prompt string) []string

	// Environment returns the environment variables needed by the agent.
	Environment() []string

	// Response strips the agent's own banner and status lines from output,
	// leaving the model's reply.
	Response(output string) string
}

// Names lists the supported agents.
var Names = []string{"claude", "amp", "aider"}

// New creates an agent adapter by name.
func New(name string) (Agent, error) {
	switch strings.ToLower(name) {
	case "claude":
		return NewClaudeAgent(), nil
	case "amp":
		return NewAmpAgent(), nil
	case "aider":
		return NewAiderAgent(), nil
	default:
		return nil, fmt.Errorf("unknown agent: %s", name)
	}
}

// GetAPIKey retrieves the API key for an agent from environment variables.
func GetAPIKey(agent string) string {
	switch agent {
	case "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "amp":
		return os.Getenv("AMP_API_KEY")
	case "aider":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		return key
	default:
		return ""
	}
}

// ValidateAPIKey checks if the required API key is available.
func ValidateAPIKey(agent string) error {
	if GetAPIKey(agent) != "" {
		return nil
	}
	switch agent {
	case "claude":
		return fmt.Errorf("ANTHROPIC_API_KEY environment variable is required for Claude agent")
	case "amp":
		return fmt.Errorf("AMP_API_KEY environment variable is required for Amp agent")
	case "aider":
		return fmt.Errorf("OPENAI_API_KEY or ANTHROPIC_API_KEY environment variable is required for Aider agent")
	default:
		return fmt.Errorf("unknown agent: %s", agent)
	}
}

// baseEnvironment is shared by every agent container.
func baseEnvironment() []string {
	return []string{"HOME=/home/agent", "USER=agent"}
}

// dropLines removes lines starting with any of prefixes and trims the rest.
func dropLines(output string, prefixes ...string) string {
	var kept []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		skip := false
		for _, p := range prefixes {
			if strings.HasPrefix(trimmed, p) {
				skip = true
				break
			}
		}
		if !skip {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
