package tunnel

import (
	"strconv"

	"github.com/alpacax/saucetunnel/pkg/credentials"
	"github.com/alpacax/saucetunnel/pkg/pipeline"
)

// Variables published to nested work.
const (
	EnvSeleniumPort     = "SELENIUM_PORT"
	EnvSeleniumHost     = "SELENIUM_HOST"
	EnvTunnelIdentifier = "TUNNEL_IDENTIFIER"
	EnvRestEndpoint     = "SAUCE_REST_ENDPOINT"
	EnvUsername         = "SAUCE_USERNAME"
	EnvLegacyUsername   = "SAUCE_USER_NAME"
	EnvAccessKey        = "SAUCE_ACCESS_KEY"
	EnvLegacyAccessKey  = "SAUCE_API_KEY"
	EnvBuildNumber      = "JENKINS_BUILD_NUMBER"
	EnvBuildName        = "SAUCE_BUILD_NAME"

	SeleniumHost = "localhost"
)

// ConnectionOverlay is what tests need to reach the tunnel. The identifier
// is only published when one was generated.
func ConnectionOverlay(h *Handle) *pipeline.Overlay {
	o := pipeline.NewOverlay().
		Set(EnvSeleniumPort, strconv.Itoa(h.Port)).
		Set(EnvSeleniumHost, SeleniumHost)
	if h.TunnelIdentifier != "" {
		o.Set(EnvTunnelIdentifier, h.TunnelIdentifier)
	}
	return o.Set(EnvRestEndpoint, h.RestEndpoint)
}

// CredentialOverlay exposes an account and the build it is used for.
func CredentialOverlay(creds *credentials.Credentials, run *pipeline.Run) *pipeline.Overlay {
	build := Sanitize(run.FullDisplayName())
	return pipeline.NewOverlay().
		Set(EnvUsername, creds.Username).
		Set(EnvLegacyUsername, creds.Username).
		Set(EnvAccessKey, creds.AccessKey).
		Set(EnvLegacyAccessKey, creds.AccessKey).
		Set(EnvRestEndpoint, creds.Endpoint()).
		Set(EnvBuildNumber, build).
		Set(EnvBuildName, build)
}

// Publish layers overlay over the expander already in effect. The result
// is meant for one nested scope only.
func Publish(existing pipeline.Expander, overlay *pipeline.Overlay) pipeline.Expander {
	return pipeline.Merge(existing, overlay)
}
