package executor

import (
	"fmt"

	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/alpacax/saucetunnel/pkg/executor/handlers/port"
	"github.com/alpacax/saucetunnel/pkg/executor/handlers/sauce"
	"github.com/alpacax/saucetunnel/pkg/executor/handlers/shell"
)

// HandlerFactory encapsulates handler instantiation and registration
type HandlerFactory struct {
	dispatcher *CommandDispatcher
	cmdExec    common.CommandExecutor
}

func NewHandlerFactory(dispatcher *CommandDispatcher, cmdExec common.CommandExecutor) *HandlerFactory {
	return &HandlerFactory{
		dispatcher: dispatcher,
		cmdExec:    cmdExec,
	}
}

// RegisterAll registers every node handler. guard may be nil.
func (f *HandlerFactory) RegisterAll(manager sauce.Manager, guard sauce.ResourceGuard) error {
	handlers := []common.Handler{
		port.NewPortHandler(),
		sauce.NewSauceHandler(manager, guard),
		shell.NewShellHandler(f.cmdExec),
	}

	for _, handler := range handlers {
		if err := f.dispatcher.RegisterHandler(handler); err != nil {
			return fmt.Errorf("failed to register handler: %w", err)
		}
	}
	return nil
}
