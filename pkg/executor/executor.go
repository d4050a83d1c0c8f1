package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Executor runs processes on the local node.
type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

// CommandOptions defines options for command execution
type CommandOptions struct {
	Args       []string          // Command and arguments
	Env        map[string]string // Overrides layered over the node environment
	WorkingDir string
	Timeout    time.Duration
	Input      string // stdin
}

// Execute runs opts.Args[0] with the node environment plus opts.Env. The
// arguments are passed through unchanged.
func (e *Executor) Execute(ctx context.Context, opts CommandOptions) (int, string, error) {
	if len(opts.Args) == 0 {
		return 1, "", errors.New("no command given")
	}

	args := opts.Args

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = mergeEnviron(os.Environ(), opts.Env)
	cmd.Dir = opts.WorkingDir
	if opts.Input != "" {
		cmd.Stdin = bytes.NewReader([]byte(opts.Input))
	}

	log.Debug().
		Str("command", strings.Join(args, " ")).
		Str("dir", cmd.Dir).
		Int("overrides", len(opts.Env)).
		Msg("Executor execute command")

	output, err := cmd.CombinedOutput()
	exitCode := 0
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
		} else {
			exitCode = 1
		}
	}

	return exitCode, string(output), err
}

// mergeEnviron returns base ("K=V" entries) with overrides applied, sorted
// by key.
func mergeEnviron(base []string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}

	result := make([]string, 0, len(merged))
	for k, v := range merged {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// Implement CommandExecutor interface methods

func (e *Executor) Run(ctx context.Context, name string, args ...string) (int, string, error) {
	return e.Execute(ctx, CommandOptions{Args: append([]string{name}, args...)})
}

func (e *Executor) RunWithTimeout(ctx context.Context, timeout time.Duration, name string, args ...string) (int, string, error) {
	return e.Execute(ctx, CommandOptions{
		Args:    append([]string{name}, args...),
		Timeout: timeout,
	})
}

func (e *Executor) Exec(ctx context.Context, args []string, env map[string]string, workingDir string, timeout time.Duration) (int, string, error) {
	return e.Execute(ctx, CommandOptions{
		Args:       args,
		Env:        env,
		WorkingDir: workingDir,
		Timeout:    timeout,
	})
}
