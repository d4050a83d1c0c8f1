package node

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alpacax/saucetunnel/internal/protocol"
	"github.com/alpacax/saucetunnel/pkg/executor"
	"github.com/alpacax/saucetunnel/pkg/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/xtaci/smux"
)

// Path is where the agent accepts node sessions.
const Path = "/ws/node/"

const (
	requestReadTimeout = 30 * time.Second
	shutdownTimeout    = 10 * time.Second
)

// Server exposes a dispatcher to remote coordinators.
type Server struct {
	dispatcher     *executor.CommandDispatcher
	token          string
	defaultTimeout time.Duration
	upgrader       websocket.Upgrader

	mu       sync.Mutex
	sessions map[*smux.Session]struct{}
}

// NewServer creates a node agent server. An empty token accepts every
// client. defaultTimeout bounds each call, zero means no bound.
func NewServer(dispatcher *executor.CommandDispatcher, token string, defaultTimeout time.Duration) *Server {
	return &Server{
		dispatcher:     dispatcher,
		token:          token,
		defaultTimeout: defaultTimeout,
		sessions:       make(map[*smux.Session]struct{}),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	return mux
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	given, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(s.token)) == 1
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		log.Warn().Str("remote", r.RemoteAddr).Msg("Rejected node session with an invalid token.")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to upgrade node session.")
		return
	}

	session, err := smux.Server(transport.NewWebSocketConn(conn), transport.SmuxConfig())
	if err != nil {
		_ = conn.Close()
		log.Error().Err(err).Msg("Failed to create smux session.")
		return
	}
	s.track(session)
	defer s.untrack(session)

	log.Info().Str("remote", r.RemoteAddr).Msg("Node session established.")
	for {
		stream, err := session.AcceptStream()
		if err != nil {
			log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Node session closed.")
			return
		}
		s.dispatch(stream)
	}
}

func (s *Server) track(session *smux.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session] = struct{}{}
}

func (s *Server) untrack(session *smux.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session)
	_ = session.Close()
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for session := range s.sessions {
		_ = session.Close()
	}
}

func (s *Server) dispatch(stream *smux.Stream) {
	root := s.dispatcher.ContextManager().Root()
	err := s.dispatcher.Pool().Submit(root, "node-call", func() error {
		return s.handleStream(stream)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Node call rejected.")
		go s.reject(stream, err)
	}
}

// reject answers a call the pool could not take.
func (s *Server) reject(stream *smux.Stream, cause error) {
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(requestReadTimeout))
	req, err := protocol.ReadRequest(stream)
	if err != nil {
		return
	}
	_ = protocol.Write(stream, protocol.NewResponse(req, 1, "", fmt.Errorf("node busy: %w", cause), 0))
}

func (s *Server) handleStream(stream *smux.Stream) error {
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(requestReadTimeout))
	req, err := protocol.ReadRequest(stream)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to read node request.")
		return err
	}
	_ = stream.SetReadDeadline(time.Time{})

	if req.Query == protocol.MessageTypePing {
		return protocol.Write(stream, protocol.NewResponse(req, 0, "pong", nil, 0))
	}

	ctx, cancel := s.dispatcher.ContextManager().NewContext(s.defaultTimeout)
	defer cancel()

	// The client closes its end to cancel.
	go func() {
		_, _ = io.Copy(io.Discard, stream)
		cancel()
	}()

	start := time.Now()
	exitCode, output, execErr := s.dispatcher.Execute(ctx, req.Command, req.Args)
	elapsed := time.Since(start)

	if errors.Is(ctx.Err(), context.Canceled) {
		log.Info().Str("id", req.ID).Str("command", req.Command).Msg("Node call cancelled by the caller.")
	}

	err = protocol.Write(stream, protocol.NewResponse(req, exitCode, output, execErr, elapsed))
	if errors.Is(err, protocol.ErrMessageTooLarge) {
		log.Warn().Err(err).Str("id", req.ID).Str("command", req.Command).Msg("Node response too large, sending an error instead.")
		err = protocol.Write(stream, protocol.NewResponse(req, exitCode, "", fmt.Errorf("response could not be sent: %w", err), elapsed))
	}
	if err != nil {
		log.Debug().Err(err).Str("id", req.ID).Msg("Failed to send node response.")
		return err
	}
	return nil
}

// ListenAndServe serves node sessions on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: requestReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("Node agent listening on %s.", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.closeSessions()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down node agent: %w", err)
		}
		return nil
	}
}
