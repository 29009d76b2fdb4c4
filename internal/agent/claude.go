package agent

import "os"

// ClaudeAgent implements the Agent interface for Claude Code.
type ClaudeAgent struct{}

// NewClaudeAgent creates a new Claude Code agent adapter.
func NewClaudeAgent() *ClaudeAgent {
	return &ClaudeAgent{}
}

// Name returns the agent identifier.
func (a *ClaudeAgent) Name() string {
	return "claude"
}

// Command runs Claude Code in print mode. The analysis only reads the
// prompt, so no tool permissions are granted.
func (a *ClaudeAgent) Command(prompt string) []string {
	args := []string{"claude", "--output-format", "text"}
	if prompt != "" {
		args = append(args, "-p", prompt)
	}
	return args
}

// Environment returns the environment variables needed by Claude Code.
func (a *ClaudeAgent) Environment() []string {
	env := []string{}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		env = append(env, "ANTHROPIC_API_KEY="+key)
	}

	env = append(env, "CLAUDE_CODE_SKIP_INTRO=1")
	return append(env, baseEnvironment()...)
}

// Response returns the reply; print mode emits nothing else.
func (a *ClaudeAgent) Response(output string) string {
	return dropLines(output)
}
