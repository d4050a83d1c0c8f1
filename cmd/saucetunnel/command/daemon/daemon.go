package daemon

import (
	"os"
	"syscall"
	"time"

	"github.com/alpacax/saucetunnel/cmd/saucetunnel/command/setup"
	"github.com/alpacax/saucetunnel/pkg/agent"
	"github.com/alpacax/saucetunnel/pkg/config"
	"github.com/alpacax/saucetunnel/pkg/node"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var listen string

// AgentCmd serves node commands so a coordinator on another machine can
// open tunnels and run build work here.
var AgentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Serve node commands to remote coordinators",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent()
	},
}

func init() {
	AgentCmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")
}

func runAgent() error {
	settings := config.GlobalSettings
	addr := settings.AgentListen
	if listen != "" {
		addr = listen
	}

	ctxManager := agent.NewContextManager()
	stop := ctxManager.CancelOnSignal(os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setup.NewServices(ctxManager)
	if err != nil {
		return err
	}
	defer services.Shutdown()

	if settings.AgentToken == "" {
		log.Warn().Msg("No agent token configured, any client can run commands on this node.")
	}

	log.Info().Strs("commands", services.Dispatcher.Commands()).Msgf("%s agent initialized and running.", setup.Name)

	server := node.NewServer(
		services.Dispatcher,
		settings.AgentToken,
		time.Duration(settings.PoolDefaultTimeout)*time.Second,
	)
	if err := server.ListenAndServe(ctxManager.Root(), addr); err != nil {
		log.Error().Err(err).Msg("Node agent stopped.")
		return err
	}

	log.Info().Msg("Received termination signal. Shutting down...")
	return nil
}
