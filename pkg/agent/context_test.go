//go:build unix

package agent

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContextManager(t *testing.T) {
	cm := NewContextManager()
	require.NotNil(t, cm)

	assert.False(t, cm.IsShutdown())
	assert.NoError(t, cm.Root().Err())
}

func TestShutdownCancelsChildren(t *testing.T) {
	cm := NewContextManager()

	ctx1, cancel1 := cm.NewContext(0)
	defer cancel1()
	ctx2, cancel2 := cm.NewContext(time.Minute)
	defer cancel2()

	cm.Shutdown()

	for i, ctx := range []context.Context{ctx1, ctx2} {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Errorf("context %d not cancelled after shutdown", i+1)
		}
	}
	assert.True(t, cm.IsShutdown())
}

func TestNewContextTimeout(t *testing.T) {
	cm := NewContextManager()
	defer cm.Shutdown()

	ctx, cancel := cm.NewContext(20 * time.Millisecond)
	defer cancel()

	_, hasDeadline := ctx.Deadline()
	assert.True(t, hasDeadline)

	select {
	case <-ctx.Done():
		assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("context did not time out")
	}
	assert.False(t, cm.IsShutdown(), "a child timeout must not shut down the root")
}

func TestCancelOnSignal(t *testing.T) {
	cm := NewContextManager()
	stop := cm.CancelOnSignal(syscall.SIGUSR1)
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case <-cm.Root().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("root context not cancelled by signal")
	}
}

func TestCancelOnSignalStop(t *testing.T) {
	cm := NewContextManager()
	stop := cm.CancelOnSignal(syscall.SIGUSR2)
	stop()
	stop()

	assert.False(t, cm.IsShutdown())
}
