//go:build unix

package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorEnvOverrides(t *testing.T) {
	t.Setenv("SAUCETUNNEL_TEST_OUTER", "outer")

	e := NewExecutor()
	exitCode, output, err := e.Exec(context.Background(),
		[]string{"sh", "-c", "echo $SELENIUM_PORT-$SAUCETUNNEL_TEST_OUTER"},
		map[string]string{"SELENIUM_PORT": "4445"}, "", 0)

	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
	assert.Equal(t, "4445-outer\n", output)
}

func TestExecutorKeepsArgsVerbatim(t *testing.T) {
	e := NewExecutor()
	_, output, err := e.Exec(context.Background(),
		[]string{"printf", "%s|%s|%s", "a$foo b$1", "localhost:${SELENIUM_PORT}", "p@ss$word"},
		map[string]string{"SELENIUM_PORT": "4445"}, "", 0)

	require.NoError(t, err)
	assert.Equal(t, "a$foo b$1|localhost:${SELENIUM_PORT}|p@ss$word", output)
}

func TestExecutorExitCode(t *testing.T) {
	e := NewExecutor()
	exitCode, _, err := e.Run(context.Background(), "sh", "-c", "exit 3")
	assert.Error(t, err)
	assert.Equal(t, 3, exitCode)
}

func TestExecutorTimeout(t *testing.T) {
	e := NewExecutor()
	start := time.Now()
	exitCode, _, err := e.RunWithTimeout(context.Background(), 100*time.Millisecond, "sleep", "5")
	assert.Error(t, err)
	assert.NotEqual(t, 0, exitCode)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecutorWorkingDir(t *testing.T) {
	dir := t.TempDir()
	e := NewExecutor()
	_, output, err := e.Exec(context.Background(), []string{"pwd"}, nil, dir, 0)
	require.NoError(t, err)
	assert.Contains(t, output, dir)
}

func TestExecutorNoArgs(t *testing.T) {
	exitCode, _, err := NewExecutor().Execute(context.Background(), CommandOptions{})
	assert.Error(t, err)
	assert.Equal(t, 1, exitCode)
}

func TestMergeEnviron(t *testing.T) {
	got := mergeEnviron([]string{"B=2", "A=1", "broken"}, map[string]string{"A": "x", "C": "3"})
	assert.Equal(t, []string{"A=x", "B=2", "C=3"}, got)
}
