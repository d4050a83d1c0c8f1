// Package steps provides the build steps this module contributes and a
// table to look them up by function name.
package steps

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alpacax/saucetunnel/pkg/pipeline"
	"github.com/alpacax/saucetunnel/pkg/tunnel"
)

// ContextKey names something a step needs from its execution context.
type ContextKey string

const (
	ContextRun         ContextKey = "run"
	ContextNode        ContextKey = "node"
	ContextCredentials ContextKey = "credentials"
)

// Descriptor is the static description of a step.
type Descriptor struct {
	FunctionName    string
	DisplayName     string
	TakesBody       bool
	RequiredContext []ContextKey
}

type Step interface {
	Start(ctx context.Context, ec pipeline.Context, body pipeline.Body) error
}

// Factory builds a step from its arguments, as written in a pipeline.
type Factory func(args map[string]interface{}) (Step, error)

type entry struct {
	descriptor Descriptor
	factory    Factory
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) Register(d Descriptor, f Factory) error {
	if d.FunctionName == "" {
		return fmt.Errorf("step has no function name")
	}
	if f == nil {
		return fmt.Errorf("step %s has no factory", d.FunctionName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[d.FunctionName]; exists {
		return fmt.Errorf("step %s already registered", d.FunctionName)
	}
	r.entries[d.FunctionName] = entry{descriptor: d, factory: f}
	return nil
}

func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	return e.descriptor, ok
}

// List returns every descriptor ordered by function name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e.descriptor)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].FunctionName < list[j].FunctionName })
	return list
}

func (r *Registry) New(name string, args map[string]interface{}) (Step, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no such step: %s", name)
	}
	step, err := e.factory(args)
	if err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
	}
	return step, nil
}

// Start builds the named step and runs it in ec once ec offers everything
// the step requires.
func (r *Registry) Start(ctx context.Context, name string, args map[string]interface{}, ec pipeline.Context, body pipeline.Body) error {
	step, err := r.New(name, args)
	if err != nil {
		return err
	}

	d, _ := r.Lookup(name)
	if d.TakesBody && body == nil {
		return fmt.Errorf("step %s requires a body", name)
	}
	if err := checkContext(d, ec); err != nil {
		ec.Logger().Error().Msg(err.Error())
		return err
	}
	return step.Start(ctx, ec, body)
}

func checkContext(d Descriptor, ec pipeline.Context) error {
	for _, key := range d.RequiredContext {
		switch key {
		case ContextRun:
			run := ec.Run()
			if run == nil || run.Job == nil {
				return fmt.Errorf("%w: %s needs a run", tunnel.ErrInvalidContext, d.FunctionName)
			}
			if !run.Job.TopLevel {
				return fmt.Errorf("%w: %s must be a top-level job", tunnel.ErrInvalidContext, run.Job.Name)
			}
		case ContextNode:
			if ec.Node() == nil {
				return fmt.Errorf("%s: %w", d.FunctionName, tunnel.ErrNoNode)
			}
		case ContextCredentials:
			if ec.Credentials() == nil {
				return fmt.Errorf("%s: %w", d.FunctionName, tunnel.ErrNoCredentials)
			}
		}
	}
	return nil
}

// checkArgs rejects argument names a step does not know.
func checkArgs(args map[string]interface{}, known ...string) error {
	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}
	var unknown []string
	for k := range args {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown arguments %v", unknown)
	}
	return nil
}
