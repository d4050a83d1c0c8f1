package common

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockCommandExecutor records the processes handlers ask it to run and
// answers with canned results.
type MockCommandExecutor struct {
	t        *testing.T
	mu       sync.Mutex
	commands []ExecutedCommand
	results  map[string]CommandResult
}

type ExecutedCommand struct {
	Name string
	Args []string
	Env  map[string]string
	Dir  string
}

type CommandResult struct {
	ExitCode int
	Output   string
	Err      error
}

func NewMockCommandExecutor(t *testing.T) *MockCommandExecutor {
	return &MockCommandExecutor{
		t:       t,
		results: make(map[string]CommandResult),
	}
}

func (m *MockCommandExecutor) record(c ExecutedCommand) CommandResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.commands = append(m.commands, c)
	key := strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
	if result, ok := m.results[key]; ok {
		return result
	}
	// unknown commands succeed so unrelated calls don't fail a test
	return CommandResult{Output: "Mock success"}
}

func (m *MockCommandExecutor) Run(ctx context.Context, name string, args ...string) (int, string, error) {
	r := m.record(ExecutedCommand{Name: name, Args: args})
	return r.ExitCode, r.Output, r.Err
}

func (m *MockCommandExecutor) RunWithTimeout(ctx context.Context, timeout time.Duration, name string, args ...string) (int, string, error) {
	return m.Run(ctx, name, args...)
}

func (m *MockCommandExecutor) Exec(ctx context.Context, args []string, env map[string]string, workingDir string, timeout time.Duration) (int, string, error) {
	if len(args) == 0 {
		return 0, "", nil
	}
	r := m.record(ExecutedCommand{Name: args[0], Args: args[1:], Env: env, Dir: workingDir})
	return r.ExitCode, r.Output, r.Err
}

func (m *MockCommandExecutor) SetResult(command string, exitCode int, output string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[command] = CommandResult{ExitCode: exitCode, Output: output, Err: err}
}

func (m *MockCommandExecutor) GetExecutedCommands() []ExecutedCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutedCommand(nil), m.commands...)
}
