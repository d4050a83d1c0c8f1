package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/alpacax/saucetunnel/pkg/credentials"
	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/alpacax/saucetunnel/pkg/pipeline"
	"github.com/alpacax/saucetunnel/pkg/tunnel"
	"github.com/rs/zerolog/log"
)

const SauceFunctionName = "sauce"

// CredentialsAction records on a run which credentials it used.
type CredentialsAction struct {
	CredentialsID string
}

// SauceStep binds a stored account to its body: the account is published
// as environment variables and made available to nested steps.
type SauceStep struct {
	CredentialsID string

	provider credentials.Provider
}

func SauceDescriptor() Descriptor {
	return Descriptor{
		FunctionName:    SauceFunctionName,
		DisplayName:     "Sauce",
		TakesBody:       true,
		RequiredContext: []ContextKey{ContextRun},
	}
}

func NewSauceFactory(provider credentials.Provider) Factory {
	return func(args map[string]interface{}) (Step, error) {
		if err := checkArgs(args, "credentialsId"); err != nil {
			return nil, err
		}
		return &SauceStep{
			CredentialsID: common.GetStringArg(args, "credentialsId", ""),
			provider:      provider,
		}, nil
	}
}

func (s *SauceStep) Start(ctx context.Context, ec pipeline.Context, body pipeline.Body) error {
	creds, err := s.bind(ctx, ec)
	if err != nil {
		ec.Logger().Error().Msg(err.Error())
		return err
	}

	run := ec.Run()
	overlay := tunnel.CredentialOverlay(creds, run)
	nested := pipeline.WithExpander(ec, tunnel.Publish(ec.Expander(), overlay))
	return body(ctx, pipeline.WithCredentials(nested, creds))
}

func (s *SauceStep) bind(ctx context.Context, ec pipeline.Context) (*credentials.Credentials, error) {
	run := ec.Run()
	if run == nil || run.Job == nil || !run.Job.TopLevel {
		name := "run"
		if run != nil && run.Job != nil {
			name = run.Job.Name
		}
		return nil, fmt.Errorf("%w: %s must be a top-level job", tunnel.ErrInvalidContext, name)
	}

	if s.CredentialsID == "" || s.provider == nil {
		return nil, tunnel.ErrNoCredentials
	}
	creds, err := s.provider.Lookup(ctx, s.CredentialsID)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s does not exist", tunnel.ErrNoCredentials, s.CredentialsID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up credentials %s: %w", s.CredentialsID, err)
	}

	if err := s.provider.Track(ctx, s.CredentialsID, run.FullDisplayName()); err != nil {
		log.Warn().Err(err).Str("credentials", s.CredentialsID).Msg("Failed to record credentials usage.")
	}
	if _, ok := pipeline.FindAction[*CredentialsAction](run); !ok {
		run.AddAction(&CredentialsAction{CredentialsID: s.CredentialsID})
	}
	return creds, nil
}
