package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacax/saucetunnel/internal/pool"
	"github.com/alpacax/saucetunnel/pkg/agent"
	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/alpacax/saucetunnel/pkg/executor/handlers/sauce"
	"github.com/rs/zerolog/log"
)

// CommandDispatcher manages command execution through registered handlers
type CommandDispatcher struct {
	registry   *Registry
	pool       *pool.Pool
	ctxManager *agent.ContextManager
}

func NewCommandDispatcher(pool *pool.Pool, ctxManager *agent.ContextManager) *CommandDispatcher {
	return &CommandDispatcher{
		registry:   NewRegistry(),
		pool:       pool,
		ctxManager: ctxManager,
	}
}

func (e *CommandDispatcher) RegisterHandler(h common.Handler) error {
	return e.registry.Register(h)
}

// Execute validates args and runs cmd with its handler.
func (e *CommandDispatcher) Execute(ctx context.Context, cmd string, args *common.CommandArgs) (int, string, error) {
	if args == nil {
		args = &common.CommandArgs{}
	}

	handler, err := e.registry.Get(cmd)
	if err != nil {
		log.Warn().Err(err).Msgf("No handler found for command: %s", cmd)
		return 1, "", fmt.Errorf("no handler found for command: %s", cmd)
	}

	if err := handler.Validate(cmd, args); err != nil {
		log.Error().Err(err).Msgf("Command %s validation failed", cmd)
		return 1, "", fmt.Errorf("validation failed: %w", err)
	}

	startTime := time.Now()
	exitCode, output, err := handler.Execute(ctx, cmd, args)
	duration := time.Since(startTime)

	if err != nil {
		log.Error().
			Str("command", cmd).
			Int("exitCode", exitCode).
			Dur("duration", duration).
			Err(err).
			Msg("Command execution failed")
	} else {
		log.Debug().
			Str("command", cmd).
			Int("exitCode", exitCode).
			Dur("duration", duration).
			Msg("Command executed successfully")
	}

	return exitCode, output, err
}

func (e *CommandDispatcher) HasHandler(cmd string) bool {
	return e.registry.IsCommandRegistered(cmd)
}

// Commands lists every command the dispatcher accepts.
func (e *CommandDispatcher) Commands() []string {
	return e.registry.ListCommands()
}

// Pool returns the worker pool remote calls are scheduled on.
func (e *CommandDispatcher) Pool() *pool.Pool {
	return e.pool
}

func (e *CommandDispatcher) ContextManager() *agent.ContextManager {
	return e.ctxManager
}

// Shutdown cancels running commands and drains the pool.
func (e *CommandDispatcher) Shutdown(timeout time.Duration) error {
	log.Debug().Msg("Shutting down dispatcher.")

	e.ctxManager.Shutdown()

	if err := e.pool.Shutdown(timeout); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown pool gracefully")
		return err
	}
	return nil
}

// InitDispatcher builds a dispatcher with the port, sauce and shell handlers.
func InitDispatcher(
	pool *pool.Pool,
	ctxManager *agent.ContextManager,
	manager sauce.Manager,
	guard sauce.ResourceGuard,
) (*CommandDispatcher, error) {
	dispatcher := NewCommandDispatcher(pool, ctxManager)

	factory := NewHandlerFactory(dispatcher, NewExecutor())
	if err := factory.RegisterAll(manager, guard); err != nil {
		return nil, err
	}

	log.Debug().Strs("commands", dispatcher.Commands()).Msg("Dispatcher initialized with handlers")
	return dispatcher, nil
}
