package pipeline

import (
	"context"

	"github.com/alpacax/saucetunnel/pkg/credentials"
	"github.com/alpacax/saucetunnel/pkg/node"
	"github.com/rs/zerolog"
)

// Context is what a step sees of the build it runs in.
type Context interface {
	Run() *Run
	// Node returns nil when the build's computer has no live node.
	Node() *node.Node
	// Logger is the build log.
	Logger() *zerolog.Logger
	Expander() Expander
	// Credentials returns the credentials bound by an enclosing step, or nil.
	Credentials() *credentials.Credentials
}

// Body is nested work executed with a derived Context.
type Body func(ctx context.Context, ec Context) error

type baseContext struct {
	run    *Run
	node   *node.Node
	logger *zerolog.Logger
}

func NewContext(run *Run, n *node.Node, logger zerolog.Logger) Context {
	return &baseContext{run: run, node: n, logger: &logger}
}

func (c *baseContext) Run() *Run { return c.run }
func (c *baseContext) Node() *node.Node { return c.node }
func (c *baseContext) Logger() *zerolog.Logger { return c.logger }
func (c *baseContext) Expander() Expander { return nil }
func (c *baseContext) Credentials() *credentials.Credentials { return nil }

type expanderContext struct {
	Context
	exp Expander
}

func (c *expanderContext) Expander() Expander { return c.exp }

// WithExpander derives a Context whose expander is exp. The parent is left
// untouched, so siblings and enclosing steps never see exp.
func WithExpander(parent Context, exp Expander) Context {
	return &expanderContext{Context: parent, exp: exp}
}

type credentialsContext struct {
	Context
	creds *credentials.Credentials
}

func (c *credentialsContext) Credentials() *credentials.Credentials { return c.creds }

func WithCredentials(parent Context, creds *credentials.Credentials) Context {
	return &credentialsContext{Context: parent, creds: creds}
}
