package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtaci/smux"
)

func dialPair(t *testing.T) (client *WebSocketConn, server chan *WebSocketConn) {
	t.Helper()

	server = make(chan *WebSocketConn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		server <- NewWebSocketConn(conn)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	client = NewWebSocketConn(conn)
	t.Cleanup(func() { _ = client.Close() })
	return client, server
}

func TestWebSocketConnBuffersLargeMessages(t *testing.T) {
	client, server := dialPair(t)
	peer := <-server
	defer peer.Close()

	_, err := client.Write([]byte("hello world"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	var got []byte
	for len(got) < len("hello world") {
		n, err := peer.Read(buf)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 4)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "hello world", string(got))
}

func TestWebSocketConnCarriesSmux(t *testing.T) {
	client, server := dialPair(t)
	peer := <-server

	serverSession, err := smux.Server(peer, SmuxConfig())
	require.NoError(t, err)
	defer serverSession.Close()

	clientSession, err := smux.Client(client, SmuxConfig())
	require.NoError(t, err)
	defer clientSession.Close()

	go func() {
		stream, err := serverSession.AcceptStream()
		if err != nil {
			return
		}
		defer stream.Close()
		_, _ = io.Copy(stream, stream)
	}()

	stream, err := clientSession.OpenStream()
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(stream, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}
