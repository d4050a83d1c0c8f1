package tunnel

import (
	"strings"

	"github.com/alpacax/saucetunnel/pkg/credentials"
)

// ComputedFlags are the options derived per invocation rather than
// configured.
type ComputedFlags struct {
	// TunnelIdentifier is empty unless one was generated.
	TunnelIdentifier string
	RestEndpoint     string
}

// NormalizeEndpoint falls back to the default endpoint and guarantees a
// trailing slash.
func NormalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return credentials.DefaultRestEndpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return endpoint
}

// BuildOptions composes the sc command line options. Empty parts are
// dropped, never joined as extra whitespace.
func BuildOptions(global, perInvocation string, flags ComputedFlags) string {
	var parts []string
	for _, p := range []string{global, perInvocation} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if flags.TunnelIdentifier != "" {
		parts = append(parts, "--tunnel-identifier "+flags.TunnelIdentifier)
	}
	parts = append(parts, "-x "+NormalizeEndpoint(flags.RestEndpoint)+"rest/v1")
	return strings.Join(parts, " ")
}
