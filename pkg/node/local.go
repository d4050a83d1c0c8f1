package node

import (
	"context"

	"github.com/alpacax/saucetunnel/pkg/executor"
	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
)

// Local runs commands with an in-process dispatcher.
type Local struct {
	dispatcher *executor.CommandDispatcher
}

func NewLocal(dispatcher *executor.CommandDispatcher) *Local {
	return &Local{dispatcher: dispatcher}
}

func (l *Local) Execute(ctx context.Context, cmd string, args *common.CommandArgs) (int, string, error) {
	return l.dispatcher.Execute(ctx, cmd, args)
}

func (l *Local) Ping(ctx context.Context) error {
	if l.dispatcher.ContextManager().IsShutdown() || l.dispatcher.Pool().IsShuttingDown() {
		return ErrNodeOffline
	}
	return ctx.Err()
}
