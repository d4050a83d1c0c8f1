package command

import (
	"errors"
	"fmt"

	"github.com/alpacax/saucetunnel/cmd/saucetunnel/command/creds"
	"github.com/alpacax/saucetunnel/cmd/saucetunnel/command/daemon"
	"github.com/alpacax/saucetunnel/cmd/saucetunnel/command/run"
	"github.com/alpacax/saucetunnel/cmd/saucetunnel/command/setup"
	"github.com/alpacax/saucetunnel/pkg/version"
	"github.com/spf13/cobra"
)

var configFile string

var RootCmd = &cobra.Command{
	Use:           setup.Name,
	Short:         "Run build steps behind a Sauce Connect tunnel",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setup.Init(configFile)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", setup.Name, version.Version)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: /etc/saucetunnel/saucetunnel.conf, ~/.saucetunnel.conf)")
	RootCmd.AddCommand(run.RunCmd, daemon.AgentCmd, creds.CredentialsCmd, versionCmd)
}

// Execute runs RootCmd and returns the process exit code. The exit status
// of a nested command is passed on without printing it again.
func Execute() int {
	defer setup.Close()

	err := RootCmd.Execute()
	if err == nil {
		return 0
	}
	var exitErr *run.ExitError
	if !errors.As(err, &exitErr) {
		RootCmd.PrintErrln("Error:", err.Error())
	}
	return ExitCode(err)
}

// ExitCode maps the error returned by a command to the process exit code.
func ExitCode(err error) int {
	var exitErr *run.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}
