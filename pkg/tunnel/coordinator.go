// Package tunnel brings a Sauce Connect tunnel up around a unit of nested
// work and guarantees it is torn down when that work ends.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alpacax/saucetunnel/pkg/credentials"
	"github.com/alpacax/saucetunnel/pkg/node"
	"github.com/alpacax/saucetunnel/pkg/pipeline"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultCloseTimeout = 60 * time.Second

type State int

const (
	StateIdle State = iota
	StatePortAllocating
	StateOptionsComposing
	StateTunnelOpening
	StateRunning
	StateTunnelClosing
	StateDone
	StateFailed
	StateFailedPartial
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StatePortAllocating:   "port-allocating",
	StateOptionsComposing: "options-composing",
	StateTunnelOpening:    "tunnel-opening",
	StateRunning:          "running",
	StateTunnelClosing:    "tunnel-closing",
	StateDone:             "done",
	StateFailed:           "failed",
	StateFailedPartial:    "failed-partial",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Request is one tunnel invocation. Credentials may be nil, in which case
// the credentials bound to the execution context are used.
type Request struct {
	Credentials        *credentials.Credentials
	Options            string
	Verbose            bool
	UseLatest          bool
	BinaryPath         string
	GenerateIdentifier bool
}

// Handle is a tunnel opened for one invocation.
type Handle struct {
	Port             int
	TunnelIdentifier string
	RestEndpoint     string
	Options          string
	Session          *Session

	once     sync.Once
	closeErr error
	closeFn  func(ctx context.Context) error
}

// Close stops the tunnel. Only the first call reaches the node; later calls
// return the first result.
func (h *Handle) Close(ctx context.Context) error {
	h.once.Do(func() {
		h.closeErr = h.closeFn(ctx)
	})
	return h.closeErr
}

type Option func(*Coordinator)

func WithPortAllocator(p PortAllocator) Option {
	return func(c *Coordinator) { c.ports = p }
}

func WithLauncher(l Launcher) Option {
	return func(c *Coordinator) { c.launcher = l }
}

// WithGlobalOptions sets options prepended to every invocation's own.
func WithGlobalOptions(options string) Option {
	return func(c *Coordinator) { c.globalOptions = options }
}

func WithCloseTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.closeTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithStateObserver registers fn to be called on every state change.
func WithStateObserver(fn func(State)) Option {
	return func(c *Coordinator) { c.observe = fn }
}

// Coordinator owns the allocate, open, run, close sequence. It keeps no
// state between invocations, so one Coordinator serves concurrent builds.
type Coordinator struct {
	ports         PortAllocator
	launcher      Launcher
	globalOptions string
	closeTimeout  time.Duration
	now           func() time.Time
	observe       func(State)
}

func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		ports:        NodePortAllocator{},
		launcher:     NodeLauncher{},
		closeTimeout: DefaultCloseTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type invocation struct {
	id    string
	ec    pipeline.Context
	state State
	obs   func(State)
}

func (inv *invocation) transition(s State) {
	log.Debug().Str("invocation", inv.id).Msgf("Tunnel %s -> %s.", inv.state, s)
	inv.state = s
	if inv.obs != nil {
		inv.obs(s)
	}
}

// Run opens a tunnel on the context's node, runs body with the connection
// variables published, and closes the tunnel on every exit path of body,
// panics included.
//
// A failure before body starts is returned as is. Once body ran, its error
// is returned; a failed close is only reported unless body failed too, in
// which case both are returned.
func (c *Coordinator) Run(ctx context.Context, ec pipeline.Context, req Request, body pipeline.Body) (err error) {
	inv := &invocation{id: uuid.NewString(), ec: ec, state: StateIdle, obs: c.observe}

	n, handle, err := c.open(ctx, inv, req)
	if err != nil {
		inv.transition(StateFailed)
		ec.Logger().Error().Msg(err.Error())
		return err
	}

	defer func() {
		r := recover()
		bodyErr := err
		if r != nil {
			bodyErr = fmt.Errorf("nested work panicked: %v", r)
		}

		inv.transition(StateTunnelClosing)
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.closeTimeout)
		defer cancel()
		err = c.outcome(inv, n, bodyErr, handle.Close(closeCtx))

		if r != nil {
			panic(r)
		}
	}()

	nested := pipeline.WithExpander(ec, Publish(ec.Expander(), ConnectionOverlay(handle)))
	inv.transition(StateRunning)
	err = body(ctx, nested)
	if err != nil && ctx.Err() != nil {
		ec.Logger().Warn().Msg("Nested work was cancelled, stopping sauce connect.")
	}
	return err
}

func (c *Coordinator) open(ctx context.Context, inv *invocation, req Request) (*node.Node, *Handle, error) {
	ec := inv.ec

	run := ec.Run()
	if run == nil || run.Job == nil {
		return nil, nil, fmt.Errorf("%w: no job in context", ErrInvalidContext)
	}
	if !run.Job.TopLevel {
		return nil, nil, fmt.Errorf("%w: %s must be a top-level job", ErrInvalidContext, run.Job.Name)
	}

	n := ec.Node()
	if n == nil {
		return nil, nil, ErrNoNode
	}
	if err := n.Alive(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrNoNode, err)
	}

	creds := req.Credentials
	if creds == nil {
		creds = ec.Credentials()
	}
	if creds == nil {
		return nil, nil, ErrNoCredentials
	}

	inv.transition(StatePortAllocating)
	port, err := c.ports.Allocate(ctx, n)
	if err != nil {
		return nil, nil, asAllocationError(err)
	}

	inv.transition(StateOptionsComposing)
	var identifier string
	if req.GenerateIdentifier {
		identifier = GenerateTunnelIdentifier(run.Job.Name, c.now())
	}
	endpoint := creds.Endpoint()
	options := BuildOptions(c.globalOptions, req.Options, ComputedFlags{
		TunnelIdentifier: identifier,
		RestEndpoint:     endpoint,
	})

	ec.Logger().Info().Msg("Starting sauce connect")
	log.Info().
		Str("invocation", inv.id).
		Str("node", n.Name).
		Int("port", port).
		Str("username", creds.Username).
		Msg("Opening tunnel.")

	inv.transition(StateTunnelOpening)
	session, err := c.launcher.Open(ctx, n, OpenRequest{
		Credentials: creds,
		Port:        port,
		Options:     options,
		Verbose:     req.Verbose,
		UseLatest:   req.UseLatest,
		BinaryPath:  req.BinaryPath,
	})
	if err != nil {
		return nil, nil, asConnectError(err)
	}

	handle := &Handle{
		Port:             port,
		TunnelIdentifier: identifier,
		RestEndpoint:     endpoint,
		Options:          options,
		Session:          session,
	}
	handle.closeFn = func(ctx context.Context) error {
		if err := c.launcher.Close(ctx, n, creds, options); err != nil {
			return asCloseError(err)
		}
		return nil
	}
	return n, handle, nil
}

func (c *Coordinator) outcome(inv *invocation, n *node.Node, bodyErr, closeErr error) error {
	logger := inv.ec.Logger()

	switch {
	case bodyErr == nil && closeErr == nil:
		inv.transition(StateDone)
		log.Info().Str("invocation", inv.id).Str("node", n.Name).Msg("Tunnel closed.")
		return nil
	case closeErr == nil:
		inv.transition(StateFailedPartial)
		return bodyErr
	case bodyErr == nil:
		inv.transition(StateFailedPartial)
		logger.Warn().Msg(closeErr.Error())
		log.Warn().Err(closeErr).Str("invocation", inv.id).Msg("Tunnel teardown failed after successful work.")
		return nil
	default:
		inv.transition(StateFailedPartial)
		logger.Error().Msg(closeErr.Error())
		return errors.Join(bodyErr, closeErr)
	}
}
