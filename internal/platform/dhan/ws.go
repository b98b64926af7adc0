package dhan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/depthfeed/internal/domain"
	"github.com/alanyoungcy/depthfeed/internal/feed"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// defaultPongWait is the time allowed between reads before the
	// connection is considered dead.
	defaultPongWait = 90 * time.Second
)

// WSDialer opens feed transports over gorilla/websocket.
type WSDialer struct {
	// PongWait bounds the silence tolerated on the read side. Zero uses the
	// default; a negative value disables the read deadline.
	PongWait time.Duration
}

// Dial performs the WebSocket handshake. The handshake is bounded by the
// context deadline; a deadline expiry is reported as domain.ErrConnectTimeout.
func (d WSDialer) Dial(ctx context.Context, wsURL string) (feed.Transport, error) {
	dialer := websocket.Dialer{
		Proxy:           websocket.DefaultDialer.Proxy,
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 4 * 1024,
	}
	if dl, ok := ctx.Deadline(); ok {
		dialer.HandshakeTimeout = time.Until(dl)
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("dhan/ws: dial: %w", domain.ErrConnectTimeout)
		}
		return nil, fmt.Errorf("dhan/ws: dial: %w", err)
	}

	pongWait := d.PongWait
	if pongWait == 0 {
		pongWait = defaultPongWait
	}

	t := &wsTransport{conn: conn, pongWait: pongWait}
	if pongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	return t, nil
}

// wsTransport adapts *websocket.Conn to feed.Transport. gorilla permits one
// concurrent writer, so writes are serialized.
type wsTransport struct {
	conn     *websocket.Conn
	pongWait time.Duration

	writeMu sync.Mutex
	closeMu sync.Once
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if t.pongWait > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	}
	return data, nil
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a close frame and closes the socket. Safe to call repeatedly.
func (t *wsTransport) Close() error {
	var err error
	t.closeMu.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Compile-time interface checks.
var (
	_ feed.Dialer    = WSDialer{}
	_ feed.Transport = (*wsTransport)(nil)
	_ feed.Protocol  = (*Protocol)(nil)
)
