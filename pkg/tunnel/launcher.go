package tunnel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alpacax/saucetunnel/pkg/credentials"
	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/alpacax/saucetunnel/pkg/node"
)

// OpenRequest is what the launcher needs to bring a tunnel up.
type OpenRequest struct {
	Credentials *credentials.Credentials
	Port        int
	Options     string
	Verbose     bool
	UseLatest   bool
	BinaryPath  string
}

// Session describes a tunnel the launcher opened.
type Session struct {
	Node    string
	Port    int
	Message string
}

// Launcher opens and closes tunnels on a node. Close targets tunnels by
// account and options, the same pair Open was given.
type Launcher interface {
	Open(ctx context.Context, n *node.Node, req OpenRequest) (*Session, error)
	Close(ctx context.Context, n *node.Node, creds *credentials.Credentials, options string) error
}

// NodeLauncher drives the tunnel manager through node commands.
type NodeLauncher struct{}

func (NodeLauncher) Open(ctx context.Context, n *node.Node, req OpenRequest) (*Session, error) {
	out, err := n.Call(ctx, common.OpenSauceConnect.String(), &common.CommandArgs{
		Username:     req.Credentials.Username,
		AccessKey:    req.Credentials.AccessKey,
		RestEndpoint: req.Credentials.Endpoint(),
		Port:         req.Port,
		Options:      req.Options,
		Verbose:      req.Verbose,
		UseLatest:    req.UseLatest,
		BinaryPath:   req.BinaryPath,
	})
	if err != nil {
		return nil, fmt.Errorf("%w on %s: %w", ErrTunnelConnect, n.Name, err)
	}
	return &Session{Node: n.Name, Port: req.Port, Message: strings.TrimSpace(out)}, nil
}

func (NodeLauncher) Close(ctx context.Context, n *node.Node, creds *credentials.Credentials, options string) error {
	_, err := n.Call(ctx, common.CloseSauceConnect.String(), &common.CommandArgs{
		Username:     creds.Username,
		RestEndpoint: creds.Endpoint(),
		Options:      options,
	})
	if err != nil {
		return fmt.Errorf("%w on %s: %w", ErrTunnelClose, n.Name, err)
	}
	return nil
}

func asConnectError(err error) error {
	if errors.Is(err, ErrTunnelConnect) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTunnelConnect, err)
}

func asCloseError(err error) error {
	if errors.Is(err, ErrTunnelClose) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTunnelClose, err)
}
