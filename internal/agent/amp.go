package agent

import "os"

// AmpAgent implements the Agent interface for Amp.
type AmpAgent struct{}

// NewAmpAgent creates a new Amp agent adapter.
func NewAmpAgent() *AmpAgent {
	return &AmpAgent{}
}

// Name returns the agent identifier.
func (a *AmpAgent) Name() string {
	return "amp"
}

// Command returns the command to run Amp with a prompt.
func (a *AmpAgent) Command(prompt string) []string {
	args := []string{"amp"}
	if prompt != "" {
		args = append(args, "--execute", prompt)
	}
	return args
}

// Environment returns the environment variables needed by Amp.
func (a *AmpAgent) Environment() []string {
	env := []string{}

	if key := os.Getenv("AMP_API_KEY"); key != "" {
		env = append(env, "AMP_API_KEY="+key)
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		env = append(env, "ANTHROPIC_API_KEY="+key)
	}

	return append(env, baseEnvironment()...)
}

// Response drops Amp's thread banner.
func (a *AmpAgent) Response(output string) string {
	return dropLines(output, "Thread:", "Using model")
}
