package steps

import (
	"github.com/alpacax/saucetunnel/pkg/credentials"
	"github.com/alpacax/saucetunnel/pkg/tunnel"
)

// NewDefaultRegistry returns a registry holding the sauce and sauceconnect
// steps.
func NewDefaultRegistry(provider credentials.Provider, coordinator *tunnel.Coordinator) (*Registry, error) {
	r := NewRegistry()
	if err := r.Register(SauceDescriptor(), NewSauceFactory(provider)); err != nil {
		return nil, err
	}
	if err := r.Register(SauceConnectDescriptor(), NewSauceConnectFactory(coordinator)); err != nil {
		return nil, err
	}
	return r, nil
}
