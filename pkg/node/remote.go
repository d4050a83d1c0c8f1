package node

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/alpacax/saucetunnel/internal/protocol"
	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/alpacax/saucetunnel/pkg/transport"
	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/xtaci/smux"
)

const (
	minConnectInterval = 500 * time.Millisecond
	maxConnectInterval = 10 * time.Second
	maxConnectElapsed  = time.Minute
	handshakeTimeout   = 30 * time.Second
)

// Remote runs commands on a node agent. All calls share one smux session;
// each call gets its own stream.
type Remote struct {
	url        string
	header     http.Header
	dialer     *websocket.Dialer
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	session *smux.Session
}

func NewRemote(nodeURL, token string, sslVerify bool) *Remote {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &Remote{
		url:    nodeURL,
		header: header,
		dialer: &websocket.Dialer{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !sslVerify,
			},
			HandshakeTimeout: handshakeTimeout,
		},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = minConnectInterval
			b.MaxInterval = maxConnectInterval
			b.MaxElapsedTime = maxConnectElapsed
			return b
		},
	}
}

// Name is the host the node agent listens on.
func (r *Remote) Name() string {
	if u, err := url.Parse(r.url); err == nil && u.Host != "" {
		return u.Host
	}
	return r.url
}

func (r *Remote) connect(ctx context.Context) (*smux.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil && !r.session.IsClosed() {
		return r.session, nil
	}

	log.Debug().Msgf("Connecting to node agent at %s...", r.url)

	var session *smux.Session
	b := backoff.WithContext(r.newBackOff(), ctx)
	operation := func() error {
		conn, resp, err := r.dialer.DialContext(ctx, r.url, r.header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return backoff.Permanent(fmt.Errorf("node agent rejected the token: %s", resp.Status))
			}
			log.Debug().Err(err).Msgf("Failed to connect to node agent %s, will try again.", r.url)
			return err
		}

		s, err := smux.Client(transport.NewWebSocketConn(conn), transport.SmuxConfig())
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed to create smux session: %w", err)
		}
		session = s
		return nil
	}

	if err := backoff.Retry(operation, b); err != nil {
		return nil, fmt.Errorf("failed to connect to node %s: %w", r.url, err)
	}

	r.session = session
	log.Debug().Msgf("Node session established with %s.", r.url)
	return session, nil
}

func (r *Remote) drop(session *smux.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == session {
		_ = session.Close()
		r.session = nil
	}
}

// roundTrip sends req on a fresh stream. Cancelling ctx closes the stream,
// which the agent treats as cancellation of the running command.
func (r *Remote) roundTrip(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	session, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := session.OpenStream()
	if err != nil {
		r.drop(session)
		return nil, fmt.Errorf("failed to open stream to node %s: %w", r.url, err)
	}
	defer stream.Close()

	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	if err := protocol.Write(stream, req); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to send %s to node: %w", req.Query, err)
	}

	resp, err := protocol.ReadResponse(stream, req.ID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("no response from node %s: %w", r.url, err)
	}
	return resp, nil
}

func (r *Remote) Execute(ctx context.Context, cmd string, args *common.CommandArgs) (int, string, error) {
	resp, err := r.roundTrip(ctx, protocol.NewCommandRequest(cmd, args))
	if err != nil {
		return 1, "", err
	}
	if resp.Error != "" {
		return resp.ExitCode, resp.Output, errors.New(resp.Error)
	}
	return resp.ExitCode, resp.Output, nil
}

func (r *Remote) Ping(ctx context.Context) error {
	resp, err := r.roundTrip(ctx, protocol.NewPingRequest())
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return nil
	}
	err := r.session.Close()
	r.session = nil
	return err
}
