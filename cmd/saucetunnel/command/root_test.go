package command

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/alpacax/saucetunnel/cmd/saucetunnel/command/run"
	"github.com/alpacax/saucetunnel/pkg/tunnel"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 7, ExitCode(&run.ExitError{Code: 7}))
	assert.Equal(t, 3, ExitCode(errors.Join(&run.ExitError{Code: 3}, tunnel.ErrTunnelClose)))
	assert.Equal(t, 2, ExitCode(fmt.Errorf("wrapped: %w", &run.ExitError{Code: 2})))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		RootCmd.SetOut(nil)
		RootCmd.SetArgs(nil)
	})

	require.NoError(t, RootCmd.Execute())
	assert.Equal(t, "saucetunnel dev\n", out.String())
}

func runRoot(t *testing.T, runE func(*cobra.Command, []string) error) (int, string) {
	t.Helper()

	cmd := &cobra.Command{
		Use:              "fake",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		RunE:             runE,
	}
	var stderr bytes.Buffer
	RootCmd.AddCommand(cmd)
	RootCmd.SetErr(&stderr)
	RootCmd.SetArgs([]string{"fake"})
	t.Cleanup(func() {
		RootCmd.RemoveCommand(cmd)
		RootCmd.SetErr(nil)
		RootCmd.SetArgs(nil)
	})

	return Execute(), stderr.String()
}

func TestExecuteNestedExitIsQuiet(t *testing.T) {
	code, stderr := runRoot(t, func(*cobra.Command, []string) error {
		return &run.ExitError{Code: 4}
	})
	assert.Equal(t, 4, code)
	assert.Empty(t, stderr)
}

func TestExecuteReportsOtherErrors(t *testing.T) {
	code, stderr := runRoot(t, func(*cobra.Command, []string) error {
		return tunnel.ErrNoCredentials
	})
	assert.Equal(t, 1, code)
	assert.Equal(t, "Error: no credentials provided\n", stderr)
}

func TestExecuteSuccess(t *testing.T) {
	code, stderr := runRoot(t, func(*cobra.Command, []string) error { return nil })
	assert.Equal(t, 0, code)
	assert.Empty(t, stderr)
}
