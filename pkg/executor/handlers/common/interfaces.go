package common

import (
	"context"
	"time"
)

// Handler defines the interface for command handlers.
// Each handler is responsible for executing a specific set of commands.
type Handler interface {
	// Name returns the handler name (e.g., "port", "sauce", "shell")
	Name() string

	// Commands returns the list of commands this handler supports
	Commands() []string

	// Execute runs the specified command with the given arguments.
	// Returns exit code, output string, and error if command fails.
	Execute(ctx context.Context, cmd string, args *CommandArgs) (exitCode int, output string, err error)

	// Validate checks if the provided arguments are valid for the command.
	Validate(cmd string, args *CommandArgs) error
}

// CommandExecutor runs processes on the node. The concrete implementation
// lives in the executor package.
type CommandExecutor interface {
	Run(ctx context.Context, name string, args ...string) (int, string, error)

	RunWithTimeout(ctx context.Context, timeout time.Duration, name string, args ...string) (int, string, error)

	// Exec runs args with env layered over the node's own environment.
	Exec(ctx context.Context, args []string, env map[string]string, workingDir string, timeout time.Duration) (int, string, error)
}
