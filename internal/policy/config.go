package policy

import "github.com/Kocoro-lab/Shannon/go/planner/internal/tools"

// Config holds approval policy configuration
type Config struct {
	// ProtectedTools always require human approval before they run.
	ProtectedTools []string `mapstructure:"protected_tools"`

	// Path to a directory of .rego files evaluated as data.planner.tools.decision.
	// Empty disables rego evaluation.
	Path string `mapstructure:"path"`

	// FailClosed requires approval for every call when the rego policy
	// cannot be loaded or evaluated.
	FailClosed bool `mapstructure:"fail_closed"`

	// Environment is passed to rego as input.environment.
	Environment string `mapstructure:"environment"`
}

// DefaultProtectedTools are the workspace tools that modify files
func DefaultProtectedTools() []string {
	return []string{tools.ToolCreateDirectory, tools.ToolWriteFile, tools.ToolEditFile}
}

// DefaultConfig protects the mutating workspace tools and runs no rego
func DefaultConfig() Config {
	return Config{ProtectedTools: DefaultProtectedTools(), Environment: "dev"}
}
