// Package setup wires configuration, logging and the shared services every
// subcommand needs.
package setup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alpacax/saucetunnel/internal/pool"
	"github.com/alpacax/saucetunnel/pkg/agent"
	"github.com/alpacax/saucetunnel/pkg/config"
	"github.com/alpacax/saucetunnel/pkg/credentials"
	"github.com/alpacax/saucetunnel/pkg/db"
	"github.com/alpacax/saucetunnel/pkg/executor"
	"github.com/alpacax/saucetunnel/pkg/executor/handlers/sauce"
	"github.com/alpacax/saucetunnel/pkg/logger"
	"github.com/alpacax/saucetunnel/pkg/node"
	"github.com/alpacax/saucetunnel/pkg/sauceconnect"
	"github.com/alpacax/saucetunnel/pkg/version"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

const (
	Name = "saucetunnel"

	keyringPasswordEnv = "SAUCETUNNEL_KEYRING_PASSWORD"
	shutdownTimeout    = 30 * time.Second
)

var logCloser io.Closer

// Init loads the settings and points the logger at its destination.
func Init(configFile string) config.Settings {
	logger.InitLogger("")

	files := config.Files(Name)
	if configFile != "" {
		files = []string{configFile}
	}
	settings := config.LoadConfig(files)
	config.InitSettings(settings)

	if settings.LogFile != "" {
		logCloser = logger.InitLogger(settings.LogFile)
	}
	log.Debug().Msgf("Starting %s... (version: %s)", Name, version.Version)
	return settings
}

func Close() {
	if logCloser != nil {
		_ = logCloser.Close()
		logCloser = nil
	}
}

// KeyringPassword unlocks the file keyring, from the environment or an
// interactive prompt.
func KeyringPassword(prompt string) (string, error) {
	if pw, ok := os.LookupEnv(keyringPasswordEnv); ok {
		return pw, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("set %s to unlock the keyring", keyringPasswordEnv)
	}
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// OpenStore opens the credential store. The returned func releases it.
func OpenStore(ctx context.Context) (*credentials.Store, func(), error) {
	settings := config.GlobalSettings

	database, err := db.Open(ctx, settings.CredentialsDB)
	if err != nil {
		return nil, nil, err
	}
	ring, err := credentials.OpenKeyring(settings.KeyringType, settings.KeyringDir, KeyringPassword)
	if err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	return credentials.NewStore(database, ring), closeDB(database), nil
}

func closeDB(database *sql.DB) func() {
	return func() {
		if err := database.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close credentials database.")
		}
	}
}

// Services are what a node needs to run commands in this process.
type Services struct {
	Dispatcher *executor.CommandDispatcher
	Manager    *sauceconnect.Manager
}

func NewServices(ctxManager *agent.ContextManager) (*Services, error) {
	settings := config.GlobalSettings

	manager := sauceconnect.NewManager(sauceconnect.Settings{
		BinaryPath:   settings.BinaryPath,
		CacheDir:     settings.CacheDir,
		StartTimeout: settings.StartTimeout,
	})

	var guard sauce.ResourceGuard
	if settings.ResourceGuarded {
		guard = sauceconnect.CheckSystemResources
	}

	workerPool := pool.NewPool(settings.PoolMaxWorkers, settings.PoolQueueSize)
	dispatcher, err := executor.InitDispatcher(workerPool, ctxManager, manager, guard)
	if err != nil {
		_ = workerPool.Shutdown(shutdownTimeout)
		return nil, err
	}
	return &Services{Dispatcher: dispatcher, Manager: manager}, nil
}

// Shutdown stops every tunnel still open and drains the dispatcher.
func (s *Services) Shutdown() {
	s.Manager.CloseAll()
	if err := s.Dispatcher.Shutdown(shutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("Dispatcher did not shut down cleanly.")
	}
}

// Node returns the node build work runs on: the configured remote agent,
// or this process. The returned func releases it.
func Node(ctxManager *agent.ContextManager) (*node.Node, func(), error) {
	settings := config.GlobalSettings

	if settings.NodeURL != "" {
		remote := node.NewRemote(settings.NodeURL, settings.NodeToken, settings.NodeSSLVerify)
		return node.New(remote.Name(), remote), func() { _ = remote.Close() }, nil
	}

	services, err := NewServices(ctxManager)
	if err != nil {
		return nil, nil, err
	}
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "local"
	}
	return node.New(hostname, node.NewLocal(services.Dispatcher)), services.Shutdown, nil
}
