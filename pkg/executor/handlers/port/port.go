package port

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/rs/zerolog/log"
)

// PortHandler finds free TCP ports on the node.
type PortHandler struct {
	*common.BaseHandler
	listen func(network, address string) (net.Listener, error)
}

func NewPortHandler() *PortHandler {
	return &PortHandler{
		BaseHandler: common.NewBaseHandler(
			common.Port,
			[]common.CommandType{common.AllocatePort},
			nil,
		),
		listen: net.Listen,
	}
}

func (h *PortHandler) Execute(_ context.Context, cmd string, _ *common.CommandArgs) (int, string, error) {
	if cmd != common.AllocatePort.String() {
		return 1, "", fmt.Errorf("unknown port command: %s", cmd)
	}

	port, err := h.allocate()
	if err != nil {
		return 1, "", err
	}
	log.Debug().Int("port", port).Msg("Allocated local port.")
	return 0, strconv.Itoa(port), nil
}

func (h *PortHandler) Validate(cmd string, _ *common.CommandArgs) error {
	if cmd != common.AllocatePort.String() {
		return fmt.Errorf("unknown port command: %s", cmd)
	}
	return nil
}

// allocate binds an ephemeral port and releases it straight away. The port
// stays free until something else binds it, which is the window the tunnel
// process has to claim it.
func (h *PortHandler) allocate() (int, error) {
	l, err := h.listen("tcp", "localhost:0")
	if err != nil {
		return 0, fmt.Errorf("failed to bind a free port: %w", err)
	}
	defer func() { _ = l.Close() }()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %s", l.Addr())
	}
	return addr.Port, nil
}
