package node

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alpacax/saucetunnel/internal/pool"
	"github.com/alpacax/saucetunnel/internal/protocol"
	"github.com/alpacax/saucetunnel/pkg/agent"
	"github.com/alpacax/saucetunnel/pkg/executor"
	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler answers "echo", "fail", "boom", "block" and "flood".
type echoHandler struct {
	*common.BaseHandler
	started   chan struct{}
	cancelled chan struct{}
}

func newEchoHandler() *echoHandler {
	return &echoHandler{
		BaseHandler: common.NewBaseHandler(
			"echo",
			[]common.CommandType{"echo", "fail", "boom", "block", "flood"},
			nil,
		),
		started:   make(chan struct{}, 1),
		cancelled: make(chan struct{}, 1),
	}
}

func (h *echoHandler) Execute(ctx context.Context, cmd string, args *common.CommandArgs) (int, string, error) {
	switch cmd {
	case "echo":
		return 0, fmt.Sprintf("%s:%d", args.Username, args.Port), nil
	case "fail":
		return 3, "bad exit\n", nil
	case "boom":
		return 1, "", errors.New("handler exploded")
	case "flood":
		return 0, strings.Repeat("x", 5<<20) + "tail\n", nil
	case "block":
		h.started <- struct{}{}
		<-ctx.Done()
		h.cancelled <- struct{}{}
		return 1, "", ctx.Err()
	}
	return 1, "", fmt.Errorf("unknown command %s", cmd)
}

func (h *echoHandler) Validate(string, *common.CommandArgs) error { return nil }

func newDispatcher(t *testing.T, h common.Handler) *executor.CommandDispatcher {
	t.Helper()

	d := executor.NewCommandDispatcher(pool.NewPool(4, 8), agent.NewContextManager())
	require.NoError(t, d.RegisterHandler(h))
	t.Cleanup(func() { _ = d.Shutdown(time.Second) })
	return d
}

func TestLocalExecute(t *testing.T) {
	n := New("local", NewLocal(newDispatcher(t, newEchoHandler())))

	require.NoError(t, n.Alive(context.Background()))

	out, err := n.Call(context.Background(), "echo", &common.CommandArgs{Username: "alice", Port: 4445})
	require.NoError(t, err)
	assert.Equal(t, "alice:4445", out)
}

func TestCallNonZeroExit(t *testing.T) {
	n := New("local", NewLocal(newDispatcher(t, newEchoHandler())))

	out, err := n.Call(context.Background(), "fail", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 3: bad exit")
	assert.Equal(t, "bad exit\n", out)
}

func TestAliveWithoutNode(t *testing.T) {
	var n *Node
	assert.ErrorIs(t, n.Alive(context.Background()), ErrNodeOffline)
	assert.ErrorIs(t, New("empty", nil).Alive(context.Background()), ErrNodeOffline)
}

func TestLocalOfflineAfterShutdown(t *testing.T) {
	d := newDispatcher(t, newEchoHandler())
	n := New("local", NewLocal(d))

	require.NoError(t, d.Shutdown(time.Second))
	assert.ErrorIs(t, n.Alive(context.Background()), ErrNodeOffline)
}

func startAgent(t *testing.T, h common.Handler, token string) string {
	t.Helper()

	srv := httptest.NewServer(NewServer(newDispatcher(t, h), token, 0).Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + Path
}

func newTestRemote(t *testing.T, url, token string) *Remote {
	t.Helper()

	r := NewRemote(url, token, true)
	r.newBackOff = func() backoff.BackOff { return &backoff.StopBackOff{} }
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRemoteExecute(t *testing.T) {
	remote := newTestRemote(t, startAgent(t, newEchoHandler(), "secret"), "secret")
	n := New(remote.Name(), remote)

	require.NoError(t, n.Alive(context.Background()))

	out, err := n.Call(context.Background(), "echo", &common.CommandArgs{Username: "bob", Port: 5000})
	require.NoError(t, err)
	assert.Equal(t, "bob:5000", out)

	// Calls share the session.
	out, err = n.Call(context.Background(), "echo", &common.CommandArgs{Username: "carol", Port: 5001})
	require.NoError(t, err)
	assert.Equal(t, "carol:5001", out)
}

func TestRemoteLargeOutput(t *testing.T) {
	remote := newTestRemote(t, startAgent(t, newEchoHandler(), ""), "")

	code, out, err := remote.Execute(context.Background(), "flood", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out, protocol.TruncatedNotice))
	assert.True(t, strings.HasSuffix(out, "tail\n"))
	assert.Less(t, len(out), protocol.MaxMessageSize)
}

func TestRemoteHandlerError(t *testing.T) {
	remote := newTestRemote(t, startAgent(t, newEchoHandler(), ""), "")

	code, _, err := remote.Execute(context.Background(), "boom", nil)
	require.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, err.Error(), "handler exploded")

	code, _, err = remote.Execute(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, err.Error(), "no handler found")
}

func TestRemoteRejectsBadToken(t *testing.T) {
	remote := newTestRemote(t, startAgent(t, newEchoHandler(), "secret"), "wrong")

	_, _, err := remote.Execute(context.Background(), "echo", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected the token")
}

func TestRemoteCancellationReachesNode(t *testing.T) {
	h := newEchoHandler()
	remote := newTestRemote(t, startAgent(t, h, ""), "")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := remote.Execute(ctx, "block", nil)
		errCh <- err
	}()

	select {
	case <-h.started:
	case <-time.After(5 * time.Second):
		t.Fatal("node command never started")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("caller not released after cancel")
	}

	select {
	case <-h.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("node command not cancelled")
	}
}

func TestRemoteName(t *testing.T) {
	assert.Equal(t, "10.0.0.5:9021", NewRemote("ws://10.0.0.5:9021/ws/node/", "", true).Name())
}
