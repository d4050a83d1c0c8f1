package steps

import (
	"context"
	"strings"

	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/alpacax/saucetunnel/pkg/pipeline"
	"github.com/alpacax/saucetunnel/pkg/tunnel"
)

const SauceConnectFunctionName = "sauceconnect"

// SauceConnectStep runs its body with a Sauce Connect tunnel up.
type SauceConnectStep struct {
	Options                      string
	VerboseLogging               bool
	UseLatestSauceConnect        bool
	UseGeneratedTunnelIdentifier bool
	SauceConnectPath             string

	coordinator *tunnel.Coordinator
}

func SauceConnectDescriptor() Descriptor {
	return Descriptor{
		FunctionName:    SauceConnectFunctionName,
		DisplayName:     "Sauce Connect",
		TakesBody:       true,
		RequiredContext: []ContextKey{ContextRun, ContextNode, ContextCredentials},
	}
}

func NewSauceConnectFactory(coordinator *tunnel.Coordinator) Factory {
	return func(args map[string]interface{}) (Step, error) {
		err := checkArgs(args,
			"options",
			"verboseLogging",
			"useLatestSauceConnect",
			"useGeneratedTunnelIdentifier",
			"sauceConnectPath",
		)
		if err != nil {
			return nil, err
		}
		return &SauceConnectStep{
			Options:                      strings.TrimSpace(common.GetStringArg(args, "options", "")),
			VerboseLogging:               common.GetBoolArg(args, "verboseLogging", false),
			UseLatestSauceConnect:        common.GetBoolArg(args, "useLatestSauceConnect", false),
			UseGeneratedTunnelIdentifier: common.GetBoolArg(args, "useGeneratedTunnelIdentifier", false),
			SauceConnectPath:             strings.TrimSpace(common.GetStringArg(args, "sauceConnectPath", "")),
			coordinator:                  coordinator,
		}, nil
	}
}

func (s *SauceConnectStep) Start(ctx context.Context, ec pipeline.Context, body pipeline.Body) error {
	return s.coordinator.Run(ctx, ec, tunnel.Request{
		Options:            s.Options,
		Verbose:            s.VerboseLogging,
		UseLatest:          s.UseLatestSauceConnect,
		BinaryPath:         s.SauceConnectPath,
		GenerateIdentifier: s.UseGeneratedTunnelIdentifier,
	}, body)
}
