package tunnel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/alpacax/saucetunnel/pkg/node"
)

// PortAllocator finds a port that is free on the node the tunnel will run on.
type PortAllocator interface {
	Allocate(ctx context.Context, n *node.Node) (int, error)
}

// NodePortAllocator asks the node itself for a port.
type NodePortAllocator struct{}

func (NodePortAllocator) Allocate(ctx context.Context, n *node.Node) (int, error) {
	out, err := n.Call(ctx, common.AllocatePort.String(), &common.CommandArgs{})
	if err != nil {
		return 0, fmt.Errorf("%w on %s: %w", ErrAllocation, n.Name, err)
	}

	port, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("%w on %s: unexpected answer %q", ErrAllocation, n.Name, out)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w on %s: port %d out of range", ErrAllocation, n.Name, port)
	}
	return port, nil
}

func asAllocationError(err error) error {
	if errors.Is(err, ErrAllocation) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrAllocation, err)
}
