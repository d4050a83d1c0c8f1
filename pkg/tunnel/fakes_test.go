package tunnel

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/alpacax/saucetunnel/pkg/credentials"
	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/alpacax/saucetunnel/pkg/node"
	"github.com/alpacax/saucetunnel/pkg/pipeline"
	"github.com/rs/zerolog"
)

type fakeAllocator struct {
	mu    sync.Mutex
	next  int
	err   error
	calls int
}

func (a *fakeAllocator) Allocate(ctx context.Context, n *node.Node) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return 0, a.err
	}
	port := a.next
	a.next++
	return port, nil
}

type closeCall struct {
	node     string
	username string
	options  string
	ctxErr   error
}

type fakeLauncher struct {
	mu       sync.Mutex
	openErr  error
	closeErr error
	opens    []OpenRequest
	closes   []closeCall
}

func (l *fakeLauncher) Open(ctx context.Context, n *node.Node, req OpenRequest) (*Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opens = append(l.opens, req)
	if l.openErr != nil {
		return nil, l.openErr
	}
	return &Session{Node: n.Name, Port: req.Port}, nil
}

func (l *fakeLauncher) Close(ctx context.Context, n *node.Node, creds *credentials.Credentials, options string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes = append(l.closes, closeCall{node: n.Name, username: creds.Username, options: options, ctxErr: ctx.Err()})
	return l.closeErr
}

func (l *fakeLauncher) openCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.opens)
}

func (l *fakeLauncher) closeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.closes)
}

// scriptedExecutor answers node commands from a table.
type scriptedExecutor struct {
	mu      sync.Mutex
	results map[string]scriptedResult
	calls   []scriptedCall
	pingErr error
}

type scriptedResult struct {
	exitCode int
	output   string
	err      error
}

type scriptedCall struct {
	cmd  string
	args common.CommandArgs
}

func (e *scriptedExecutor) Execute(ctx context.Context, cmd string, args *common.CommandArgs) (int, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, scriptedCall{cmd: cmd, args: *args})
	r, ok := e.results[cmd]
	if !ok {
		return 1, "", errors.New("unexpected command " + cmd)
	}
	return r.exitCode, r.output, r.err
}

func (e *scriptedExecutor) Ping(ctx context.Context) error {
	return e.pingErr
}

var testCredentials = &credentials.Credentials{
	ID:           "sauce-ci",
	Username:     "alice",
	AccessKey:    "0000-1111",
	RestEndpoint: "https://example.com/",
}

type testEnv struct {
	ec    pipeline.Context
	log   *bytes.Buffer
	exec  *scriptedExecutor
	ports *fakeAllocator
	sc    *fakeLauncher
}

func newTestEnv(topLevel bool) *testEnv {
	buf := &bytes.Buffer{}
	exec := &scriptedExecutor{}
	run := pipeline.NewRun(&pipeline.Job{Name: "web checkout", FullName: "team/web checkout", TopLevel: topLevel}, 7)
	ec := pipeline.NewContext(run, node.New("worker-1", exec), zerolog.New(&syncWriter{buf: buf}))
	return &testEnv{
		ec:    pipeline.WithCredentials(ec, testCredentials),
		log:   buf,
		exec:  exec,
		ports: &fakeAllocator{next: 4445},
		sc:    &fakeLauncher{},
	}
}

func (e *testEnv) coordinator(opts ...Option) *Coordinator {
	return NewCoordinator(append([]Option{WithPortAllocator(e.ports), WithLauncher(e.sc)}, opts...)...)
}

type syncWriter struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
