package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// newWebsocketPair spins up an httptest server that upgrades the single
// incoming connection and returns both ends as *websocket.Conn.
func newWebsocketPair(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()
	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverCh <- c
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	server = <-serverCh

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestStreamWriteFrameDeliversBinaryMessage(t *testing.T) {
	client, server := newWebsocketPair(t)

	s := NewSession(SessionID{Tag: 1}, AckFull, time.Second, 16, 0)
	st := NewStream(s, server)

	require.NoError(t, st.WriteFrame(&Frame{ID: 1, Payload: []byte("hi")}))

	msgType, data, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)

	f, err := DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, FrameID(1), f.ID)
	require.Equal(t, []byte("hi"), f.Payload)
}

func TestStreamReadLoopFeedsSessionSequencer(t *testing.T) {
	client, server := newWebsocketPair(t)

	s := NewSession(SessionID{Tag: 1}, AckFull, time.Second, 16, 0)
	st := NewStream(s, server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- st.ReadLoop(ctx) }()

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, mkFrame(1).Encode()))

	f, err := s.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, FrameID(1), f.ID)

	client.Close()
	<-done
}

func TestStreamPumpOutWritesOrderedFrames(t *testing.T) {
	client, server := newWebsocketPair(t)

	s := NewSession(SessionID{Tag: 1}, AckFull, time.Second, 16, 0)
	st := NewStream(s, server)

	require.NoError(t, s.IncomingSegment(mkFrame(2)))
	require.NoError(t, s.IncomingSegment(mkFrame(1)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- st.PumpOut(ctx) }()

	for _, want := range []FrameID{1, 2} {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		f, err := DecodeFrame(data)
		require.NoError(t, err)
		require.Equal(t, want, f.ID)
	}

	cancel()
	<-done
}
