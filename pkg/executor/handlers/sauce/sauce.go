package sauce

import (
	"context"
	"fmt"

	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/alpacax/saucetunnel/pkg/sauceconnect"
	"github.com/rs/zerolog/log"
)

// Manager is the tunnel manager running on this node.
type Manager interface {
	Open(ctx context.Context, req sauceconnect.OpenRequest) error
	CloseTunnelsForPlan(ctx context.Context, username, options string) error
}

// ResourceGuard vetoes new tunnels, e.g. when the node is overloaded.
type ResourceGuard func(ctx context.Context) error

// SauceHandler handles opensauceconnect and closesauceconnect.
type SauceHandler struct {
	*common.BaseHandler
	manager Manager
	guard   ResourceGuard
}

// NewSauceHandler creates a sauce handler. guard may be nil.
func NewSauceHandler(manager Manager, guard ResourceGuard) *SauceHandler {
	return &SauceHandler{
		BaseHandler: common.NewBaseHandler(
			common.Sauce,
			[]common.CommandType{
				common.OpenSauceConnect,
				common.CloseSauceConnect,
			},
			nil,
		),
		manager: manager,
		guard:   guard,
	}
}

func (h *SauceHandler) Execute(ctx context.Context, cmd string, args *common.CommandArgs) (int, string, error) {
	switch cmd {
	case common.OpenSauceConnect.String():
		return h.handleOpen(ctx, args)
	case common.CloseSauceConnect.String():
		return h.handleClose(ctx, args)
	default:
		return 1, "", fmt.Errorf("unknown sauce command: %s", cmd)
	}
}

func (h *SauceHandler) Validate(cmd string, args *common.CommandArgs) error {
	switch cmd {
	case common.OpenSauceConnect.String():
		return h.ValidateStruct(OpenSauceConnectData{
			Username:     args.Username,
			AccessKey:    args.AccessKey,
			RestEndpoint: args.RestEndpoint,
			Port:         args.Port,
		})
	case common.CloseSauceConnect.String():
		return h.ValidateStruct(CloseSauceConnectData{Username: args.Username})
	default:
		return fmt.Errorf("unknown sauce command: %s", cmd)
	}
}

func (h *SauceHandler) handleOpen(ctx context.Context, args *common.CommandArgs) (int, string, error) {
	if h.guard != nil {
		if err := h.guard(ctx); err != nil {
			log.Warn().Err(err).Int("port", args.Port).Msg("Tunnel creation rejected due to high resource usage.")
			return 1, "", fmt.Errorf("opensauceconnect: %w", err)
		}
	}

	err := h.manager.Open(ctx, sauceconnect.OpenRequest{
		Username:     args.Username,
		AccessKey:    args.AccessKey,
		RestEndpoint: args.RestEndpoint,
		Port:         args.Port,
		Options:      args.Options,
		Verbose:      args.Verbose,
		UseLatest:    args.UseLatest,
		BinaryPath:   args.BinaryPath,
	})
	if err != nil {
		return 1, "", fmt.Errorf("opensauceconnect: %w", err)
	}
	return 0, fmt.Sprintf("Sauce Connect is up on port %d.", args.Port), nil
}

func (h *SauceHandler) handleClose(ctx context.Context, args *common.CommandArgs) (int, string, error) {
	if err := h.manager.CloseTunnelsForPlan(ctx, args.Username, args.Options); err != nil {
		return 1, "", fmt.Errorf("closesauceconnect: %w", err)
	}
	return 0, "Sauce Connect stopped.", nil
}
