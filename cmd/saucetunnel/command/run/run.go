package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/alpacax/saucetunnel/cmd/saucetunnel/command/setup"
	"github.com/alpacax/saucetunnel/pkg/agent"
	"github.com/alpacax/saucetunnel/pkg/config"
	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/alpacax/saucetunnel/pkg/logger"
	"github.com/alpacax/saucetunnel/pkg/pipeline"
	"github.com/alpacax/saucetunnel/pkg/steps"
	"github.com/alpacax/saucetunnel/pkg/tunnel"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// ExitError carries the exit code of the nested command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

type runOptions struct {
	credentialsID      string
	options            string
	verbose            bool
	useLatest          bool
	generateIdentifier bool
	scPath             string
	job                string
	build              int
	workingDir         string
	timeout            time.Duration
}

var opts runOptions

var RunCmd = &cobra.Command{
	Use:   "run --credentials-id ID [flags] -- command [args...]",
	Short: "Run a command with Sauce credentials and a Sauce Connect tunnel",
	Long: `Run a command as the body of a "sauce" step wrapping a "sauceconnect" step.
The command sees SELENIUM_PORT, SELENIUM_HOST, SAUCE_USERNAME, SAUCE_ACCESS_KEY
and the other Sauce variables. The tunnel is stopped when the command exits.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(args)
	},
}

func init() {
	flags := RunCmd.Flags()
	flags.StringVar(&opts.credentialsID, "credentials-id", "", "stored credentials to use")
	flags.StringVar(&opts.options, "options", "", "extra Sauce Connect options")
	flags.BoolVar(&opts.verbose, "verbose", false, "verbose Sauce Connect logging")
	flags.BoolVar(&opts.useLatest, "use-latest", false, "download the latest Sauce Connect release")
	flags.BoolVar(&opts.generateIdentifier, "generate-tunnel-identifier", false, "give the tunnel a unique identifier")
	flags.StringVar(&opts.scPath, "sc-path", "", "path to the sc binary")
	flags.StringVar(&opts.job, "job", "", "job name (default: current directory name)")
	flags.IntVar(&opts.build, "build", 0, "build number (default: $BUILD_NUMBER or 1)")
	flags.StringVar(&opts.workingDir, "dir", "", "working directory of the command on the node")
	flags.DurationVar(&opts.timeout, "timeout", 0, "stop the command after this long, 0 for no limit")
	_ = RunCmd.MarkFlagRequired("credentials-id")
}

func jobName() string {
	if opts.job != "" {
		return opts.job
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Base(wd)
	}
	return setup.Name
}

func buildNumber() int {
	if opts.build > 0 {
		return opts.build
	}
	if n, err := strconv.Atoi(os.Getenv("BUILD_NUMBER")); err == nil && n > 0 {
		return n
	}
	return 1
}

func runCommand(argv []string) error {
	settings := config.GlobalSettings

	ctxManager := agent.NewContextManager()
	stop := ctxManager.CancelOnSignal(os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := ctxManager.Root()

	store, closeStore, err := setup.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	n, releaseNode, err := setup.Node(ctxManager)
	if err != nil {
		return err
	}
	defer releaseNode()

	coordinator := tunnel.NewCoordinator(
		tunnel.WithGlobalOptions(settings.GlobalOptions),
		tunnel.WithCloseTimeout(settings.CloseTimeout),
	)
	registry, err := steps.NewDefaultRegistry(store, coordinator)
	if err != nil {
		return err
	}

	name := jobName()
	build := pipeline.NewRun(&pipeline.Job{Name: name, FullName: name, TopLevel: true}, buildNumber())
	ec := pipeline.NewContext(build, n, logger.BuildLogger(os.Stdout))

	log.Debug().Str("job", build.FullDisplayName()).Str("node", n.Name).Strs("command", argv).Msg("Running command behind a tunnel.")

	sauceArgs := map[string]interface{}{"credentialsId": opts.credentialsID}
	connectArgs := map[string]interface{}{
		"options":                      opts.options,
		"verboseLogging":               opts.verbose,
		"useLatestSauceConnect":        opts.useLatest,
		"useGeneratedTunnelIdentifier": opts.generateIdentifier,
		"sauceConnectPath":             opts.scPath,
	}

	return registry.Start(ctx, steps.SauceFunctionName, sauceArgs, ec, func(ctx context.Context, ec pipeline.Context) error {
		return registry.Start(ctx, steps.SauceConnectFunctionName, connectArgs, ec, execBody(argv))
	})
}

// execBody runs argv on the context's node with the published variables.
func execBody(argv []string) pipeline.Body {
	return func(ctx context.Context, ec pipeline.Context) error {
		code, output, err := ec.Node().Executor.Execute(ctx, common.Exec.String(), &common.CommandArgs{
			Args:       argv,
			Env:        pipeline.Environ(nil, ec.Expander()),
			WorkingDir: opts.workingDir,
			Timeout:    opts.timeout,
		})
		if output != "" {
			fmt.Fprint(os.Stdout, output)
		}
		if err != nil {
			return err
		}
		if code != 0 {
			return &ExitError{Code: code}
		}
		return nil
	}
}
