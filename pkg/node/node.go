// Package node runs node commands either in this process or on a remote
// agent reached over websocket.
package node

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
)

var ErrNodeOffline = errors.New("node is offline")

// Executor runs a single node command where the node lives.
type Executor interface {
	Execute(ctx context.Context, cmd string, args *common.CommandArgs) (exitCode int, output string, err error)
}

// Pinger is implemented by executors that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Node is a named place where build work executes.
type Node struct {
	Name     string
	Executor Executor
}

func New(name string, exec Executor) *Node {
	return &Node{Name: name, Executor: exec}
}

// Alive reports whether the node can take calls right now.
func (n *Node) Alive(ctx context.Context) error {
	if n == nil || n.Executor == nil {
		return ErrNodeOffline
	}
	if p, ok := n.Executor.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrNodeOffline, n.Name, err)
		}
	}
	return nil
}

// Call runs cmd and treats a non-zero exit code as an error. The output is
// returned either way.
func (n *Node) Call(ctx context.Context, cmd string, args *common.CommandArgs) (string, error) {
	exitCode, output, err := n.Executor.Execute(ctx, cmd, args)
	if err != nil {
		return output, err
	}
	if exitCode != 0 {
		msg := strings.TrimSpace(output)
		if msg == "" {
			return output, fmt.Errorf("%s exited with code %d", cmd, exitCode)
		}
		return output, fmt.Errorf("%s exited with code %d: %s", cmd, exitCode, msg)
	}
	return output, nil
}
