package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carthingy/carthingy/pkg/log"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
)

// WebSocketConfig configures the WebSocket dialer.
type WebSocketConfig struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	// ReadTimeout fails Receive when the backend stays silent this long. Zero disables it.
	ReadTimeout time.Duration
}

// WebSocketDialer dials the backend over a WebSocket.
type WebSocketDialer struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
	logger log.Logger
}

var _ Dialer = (*WebSocketDialer)(nil)

// NewWebSocketDialer returns a dialer for cfg.URL.
func NewWebSocketDialer(cfg WebSocketConfig, logger log.Logger) (*WebSocketDialer, error) {
	if cfg.URL == "" {
		return nil, errors.New("websocket url is required")
	}
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		return nil, fmt.Errorf("websocket url %q must use ws:// or wss://", cfg.URL)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if logger == nil {
		logger = log.Std()
	}

	return &WebSocketDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger.WithName("websocket").WithValues("url", cfg.URL),
	}, nil
}

// Dial performs the WebSocket handshake.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if d.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	ws, resp, err := d.dialer.DialContext(ctx, d.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}

	d.logger.Debug("Connected to query backend")
	return &wsConn{conn: ws, readTimeout: d.cfg.ReadTimeout, logger: d.logger, closed: make(chan struct{})}, nil
}

// wsConn splits text frames into lines. A frame may carry several lines.
type wsConn struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	logger      log.Logger

	writeMu sync.Mutex
	pending []string

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *wsConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *wsConn) Send(_ context.Context, line string) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

// Receive is called from a single reader goroutine.
// Cancelling ctx closes the connection.
func (c *wsConn) Receive(ctx context.Context) (string, error) {
	if len(c.pending) == 0 {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}
	for len(c.pending) == 0 {
		if c.readTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if c.isClosed() {
				return "", ErrClosed
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "", io.EOF
			}
			return "", err
		}
		if msgType != websocket.TextMessage {
			c.logger.Debug("Ignoring non-text frame", "type", msgType)
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) != "" {
				c.pending = append(c.pending, line)
			}
		}
	}

	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
