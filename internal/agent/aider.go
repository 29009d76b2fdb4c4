package agent

import "os"

// AiderAgent implements the Agent interface for Aider.
type AiderAgent struct{}

// NewAiderAgent creates a new Aider agent adapter.
func NewAiderAgent() *AiderAgent {
	return &AiderAgent{}
}

// Name returns the agent identifier.
func (a *AiderAgent) Name() string {
	return "aider"
}

// Command returns the command to run Aider with a prompt. Edits are
// disabled; the reply is all that matters.
func (a *AiderAgent) Command(prompt string) []string {
	args := []string{"aider", "--yes", "--no-git", "--no-auto-commits", "--chat-mode", "ask"}
	if prompt != "" {
		args = append(args, "--message", prompt)
	}
	return args
}

// Environment returns the environment variables needed by Aider.
func (a *AiderAgent) Environment() []string {
	env := []string{}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		env = append(env, "OPENAI_API_KEY="+key)
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		env = append(env, "ANTHROPIC_API_KEY="+key)
	}

	return append(env, baseEnvironment()...)
}

// Response drops Aider's startup banner and token accounting.
func (a *AiderAgent) Response(output string) string {
	return dropLines(output,
		"Aider v", "Model:", "Main model:", "Weak model:", "Git repo:",
		"Repo-map:", "Tokens:", "Cost:", "Use /help",
	)
}
