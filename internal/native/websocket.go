package native

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConn carries the native messaging envelope over a WebSocket. The socket
// is already message-oriented, so frames map 1:1 to text messages with no
// length prefix.
type wsConn struct {
	c *websocket.Conn
}

func (c *wsConn) readFrame() ([]byte, error) {
	_, data, err := c.c.ReadMessage()
	return data, err
}

func (c *wsConn) writeFrame(payload []byte) error {
	return c.c.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) close() error { return c.c.Close() }

// AcceptWebSocket binds addr, waits for a single companion to connect at
// /companion, and returns a transport over that socket. Development-mode
// alternative to the stdio pipes for extensions running without a
// native-messaging manifest. One companion per process; the listener is
// released once the connection is up.
func AcceptWebSocket(ctx context.Context, addr string, logger *zap.Logger) (*Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind companion endpoint %s: %w", addr, err)
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Local development endpoint; extension origins vary.
		},
	}

	connCh := make(chan *websocket.Conn, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/companion", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("companion upgrade failed", zap.Error(err))
			return
		}
		select {
		case connCh <- conn:
		default:
			// A companion is already attached.
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "companion already connected"),
				time.Now().Add(time.Second))
			conn.Close()
		}
	})

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("companion listener failed", zap.Error(err))
		}
	}()

	logger.Info("waiting for companion", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		srv.Close()
		return nil, ctx.Err()
	case conn := <-connCh:
		// The upgraded socket is hijacked, so closing the server only
		// releases the listener.
		srv.Close()
		logger.Info("companion attached", zap.String("remote", conn.RemoteAddr().String()))
		return newTransport(&wsConn{c: conn}, logger), nil
	}
}
