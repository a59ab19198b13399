package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthingy/carthingy/pkg/log"
)

func newBackend(t *testing.T, handler func(*websocket.Conn, *http.Request)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNewWebSocketDialer_Validation(t *testing.T) {
	_, err := NewWebSocketDialer(WebSocketConfig{}, nil)
	assert.Error(t, err)

	_, err = NewWebSocketDialer(WebSocketConfig{URL: "http://example.com"}, nil)
	assert.Error(t, err)

	d, err := NewWebSocketDialer(WebSocketConfig{URL: "wss://example.com/query"}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultHandshakeTimeout, d.dialer.HandshakeTimeout)
}

func TestWebSocket_SendAndReceiveLines(t *testing.T) {
	authHeader := make(chan string, 1)
	url := newBackend(t, func(conn *websocket.Conn, r *http.Request) {
		authHeader <- r.Header.Get("Authorization")
		_, query, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("ECHO "+string(query)))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("PROGRESS 10\nbrand: Toyota\r\n\n"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("DONE"))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_, _, _ = conn.ReadMessage()
	})

	d, err := NewWebSocketDialer(WebSocketConfig{URL: url, Token: "secret"}, log.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := d.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, "QUERY NEW PLATE ABC123"))
	assert.Equal(t, "Bearer secret", <-authHeader)

	var lines []string
	for {
		line, err := conn.Receive(ctx)
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
		lines = append(lines, line)
	}
	assert.Equal(t, []string{"ECHO QUERY NEW PLATE ABC123", "PROGRESS 10", "brand: Toyota", "DONE"}, lines)
}

func TestWebSocket_CloseUnblocksReceive(t *testing.T) {
	url := newBackend(t, func(conn *websocket.Conn, _ *http.Request) {
		_, _, _ = conn.ReadMessage()
	})

	d, err := NewWebSocketDialer(WebSocketConfig{URL: url}, log.NewNopLogger())
	require.NoError(t, err)
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after Close")
	}
	assert.ErrorIs(t, conn.Send(context.Background(), "late"), ErrClosed)
}

func TestWebSocket_ContextCancelUnblocksReceive(t *testing.T) {
	url := newBackend(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("PROGRESS 10"))
		_, _, _ = conn.ReadMessage()
	})

	d, err := NewWebSocketDialer(WebSocketConfig{URL: url}, log.NewNopLogger())
	require.NoError(t, err)
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	line, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PROGRESS 10", line)

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Receive(ctx)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after ctx was cancelled")
	}
	assert.ErrorIs(t, conn.Send(context.Background(), "late"), ErrClosed)
}

func TestWebSocket_ReadTimeout(t *testing.T) {
	url := newBackend(t, func(conn *websocket.Conn, _ *http.Request) {
		_, _, _ = conn.ReadMessage()
	})

	d, err := NewWebSocketDialer(WebSocketConfig{URL: url, ReadTimeout: 50 * time.Millisecond}, log.NewNopLogger())
	require.NoError(t, err)
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Receive(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}
