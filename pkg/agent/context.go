// Package agent owns the process-wide root context shared by the CLI and the
// node agent. Every invocation and node call derives its context from it so a
// termination signal reaches all of them.
package agent

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ContextManager hands out child contexts of a single cancellable root.
type ContextManager struct {
	root   context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

func NewContextManager() *ContextManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ContextManager{
		root:   ctx,
		cancel: cancel,
	}
}

// NewContext returns a child of the root. A non-positive timeout means no
// deadline.
func (m *ContextManager) NewContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timeout > 0 {
		return context.WithTimeout(m.root, timeout)
	}
	return context.WithCancel(m.root)
}

// Root returns the root context.
func (m *ContextManager) Root() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// CancelOnSignal shuts the manager down when one of sigs arrives. The
// returned func stops listening.
func (m *ContextManager) CancelOnSignal(sigs ...os.Signal) (stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, sigs...)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("Received termination signal, cancelling running work.")
			m.Shutdown()
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(done)
		})
	}
}

// Shutdown cancels the root and with it every derived context.
func (m *ContextManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel()
}

func (m *ContextManager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.root.Done():
		return true
	default:
		return false
	}
}
