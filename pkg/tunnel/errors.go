package tunnel

import "errors"

var (
	ErrInvalidContext = errors.New("sauce connect requires a top-level job")
	ErrNoNode         = errors.New("computer does not correspond to a live node")
	ErrNoCredentials  = errors.New("no credentials provided")
	ErrAllocation     = errors.New("unable to allocate a port")
	ErrTunnelConnect  = errors.New("unable to start sauce connect")
	ErrTunnelClose    = errors.New("unable to stop sauce connect")
)
