// Package native implements the framed message transport that connects the
// bridge to its companion browser extension.
//
// The companion is reachable only through Chrome-style native messaging:
// length-prefixed JSON frames on stdin/stdout. The transport owns both pipe
// ends, runs a single read loop, and dispatches each inbound frame by
// category: replies go to the reply sink (the correlation broker), pushes go
// to a registered push handler, and everything else is an inbound RPC call
// served by a registered call handler.
//
// A development-mode WebSocket listener (see AcceptWebSocket) carries the
// identical envelope for extensions that attach without a native-messaging
// manifest.
package native

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/standardbeagle/brdg/internal/protocol"
)

// ErrDisconnected is the error handed to the reply sink when the companion
// side of the pipe goes away.
var ErrDisconnected = errors.New("companion disconnected")

// CallHandler serves one inbound RPC call. The returned value is marshaled
// into the reply; a returned *protocol.RPCError is sent verbatim, any other
// error becomes a generic server error.
type CallHandler func(ctx context.Context, params json.RawMessage) (any, error)

// PushHandler consumes one unsolicited companion push.
type PushHandler func(data json.RawMessage)

// ReplySink receives replies to requests this process sent earlier.
// Resolve reports whether the reply matched a pending request. FailAll is
// invoked once when the transport disconnects so no caller waits on a reply
// that can never arrive.
type ReplySink interface {
	Resolve(msg protocol.Message) bool
	FailAll(err error)
}

// frameConn abstracts one framed, message-oriented connection. Writes are
// serialized by the Transport; implementations may assume a single writer.
type frameConn interface {
	readFrame() ([]byte, error)
	writeFrame(payload []byte) error
	close() error
}

// stdioConn frames messages over a byte stream with the native messaging
// length prefix.
type stdioConn struct {
	r io.Reader
	w io.Writer
}

func (c *stdioConn) readFrame() ([]byte, error) { return readFrame(c.r) }

func (c *stdioConn) writeFrame(payload []byte) error {
	// One Write call per frame so concurrent senders can never interleave
	// partial frames on the pipe.
	_, err := c.w.Write(encodeFrame(payload))
	return err
}

func (c *stdioConn) close() error {
	var errs []error
	if closer, ok := c.r.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if closer, ok := c.w.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

// Config holds configuration for a stdio transport.
type Config struct {
	// Stdin and Stdout default to the process pipes. Tests substitute
	// io.Pipe ends.
	Stdin  io.Reader
	Stdout io.Writer
	Logger *zap.Logger
}

// Transport exchanges framed messages with the companion process.
type Transport struct {
	logger *zap.Logger
	conn   frameConn

	writeMu sync.Mutex

	handlers     map[string]CallHandler
	pushHandlers map[string]PushHandler
	sink         ReplySink

	ctx      context.Context
	started  atomic.Bool
	stopping atomic.Bool
	done     chan struct{}
}

// New creates a transport over the process stdio pipes.
func New(cfg Config) *Transport {
	var r io.Reader = cfg.Stdin
	if r == nil {
		r = os.Stdin
	}
	var w io.Writer = cfg.Stdout
	if w == nil {
		w = os.Stdout
	}
	return newTransport(&stdioConn{r: r, w: w}, cfg.Logger)
}

func newTransport(conn frameConn, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		logger:       logger,
		conn:         conn,
		handlers:     make(map[string]CallHandler),
		pushHandlers: make(map[string]PushHandler),
		done:         make(chan struct{}),
	}
}

// Handle registers the handler for an inbound RPC method. Registration
// happens once, during startup wiring; a duplicate method is a programming
// error and panics.
func (t *Transport) Handle(method string, h CallHandler) {
	if _, exists := t.handlers[method]; exists {
		panic(fmt.Sprintf("native: duplicate handler for method %q", method))
	}
	t.handlers[method] = h
}

// HandlePush registers the consumer for an unsolicited push category.
// Panics on duplicate registration, and on the reserved request/response
// discriminators.
func (t *Transport) HandlePush(msgType string, h PushHandler) {
	if msgType == protocol.TypeRequest || msgType == protocol.TypeResponse {
		panic(fmt.Sprintf("native: %q is a reserved message type", msgType))
	}
	if _, exists := t.pushHandlers[msgType]; exists {
		panic(fmt.Sprintf("native: duplicate push handler for type %q", msgType))
	}
	t.pushHandlers[msgType] = h
}

// SetReplySink wires the correlation broker. Must be called before Start.
func (t *Transport) SetReplySink(sink ReplySink) {
	t.sink = sink
}

// Send writes one framed message. Safe for concurrent use; frames from
// different callers never interleave.
func (t *Transport) Send(msg protocol.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.writeFrame(payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Start launches the read loop. The context is handed to inbound call
// handlers so they stop with the host.
func (t *Transport) Start(ctx context.Context) error {
	if t.sink == nil {
		return errors.New("native: reply sink not set")
	}
	if !t.started.CompareAndSwap(false, true) {
		return errors.New("native: already started")
	}
	t.ctx = ctx

	go t.readLoop()
	return nil
}

// Stop ends the read loop by closing the underlying connection. Pending
// requests are not failed here; the caller drains them first so shutdown
// errors stay distinguishable from disconnects.
func (t *Transport) Stop() {
	t.stopping.Store(true)
	if err := t.conn.close(); err != nil {
		t.logger.Debug("transport close", zap.Error(err))
	}
}

// Done is closed when the read loop exits, whether by Stop or because the
// companion hung up.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Connected reports whether the read loop is running.
func (t *Transport) Connected() bool {
	if !t.started.Load() {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *Transport) readLoop() {
	defer close(t.done)

	for {
		payload, err := t.conn.readFrame()
		if err != nil {
			if t.stopping.Load() {
				t.logger.Info("transport stopped")
				return
			}
			if err == io.EOF {
				t.logger.Info("companion closed the pipe")
			} else {
				t.logger.Error("transport read failed", zap.Error(err))
			}
			// Fail every outstanding call now rather than letting each
			// one discover the outage via its own timeout.
			t.sink.FailAll(ErrDisconnected)
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.logger.Error("malformed frame", zap.Error(err), zap.ByteString("payload", payload))
			continue
		}

		t.dispatch(msg)
	}
}

// dispatch routes one inbound message by category. Calls and pushes run on
// their own goroutines so the read loop never blocks on application logic.
func (t *Transport) dispatch(msg protocol.Message) {
	switch msg.Kind() {
	case protocol.KindReply:
		if !t.sink.Resolve(msg) {
			t.logger.Debug("dropping unmatched reply", zap.String("id", msg.ID))
		}

	case protocol.KindCall:
		go t.serveCall(msg)

	case protocol.KindPush:
		h, ok := t.pushHandlers[msg.Type]
		if !ok {
			t.logger.Warn("no handler for push type", zap.String("type", msg.Type))
			t.sendError(protocol.Message{
				Type: protocol.TypeError,
				Error: &protocol.RPCError{
					Code:    protocol.CodeMethodNotFound,
					Message: fmt.Sprintf("unknown message type: %s", msg.Type),
				},
			})
			return
		}
		go h(msg.Data)
	}
}

// serveCall runs a registered handler and frames its outcome as the reply.
func (t *Transport) serveCall(msg protocol.Message) {
	t.logger.Debug("inbound call", zap.String("method", msg.Method), zap.String("id", msg.ID))

	h, ok := t.handlers[msg.Method]
	if !ok {
		t.logger.Warn("no handler for method", zap.String("method", msg.Method))
		t.sendError(protocol.NewError(msg.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", msg.Method)))
		return
	}

	result, err := h(t.ctx, msg.Params)
	if err != nil {
		var rpcErr *protocol.RPCError
		if errors.As(err, &rpcErr) {
			t.sendError(protocol.Message{Type: protocol.TypeResponse, ID: msg.ID, Error: rpcErr})
			return
		}
		t.logger.Error("handler failed", zap.String("method", msg.Method), zap.Error(err))
		t.sendError(protocol.NewError(msg.ID, protocol.CodeServerError,
			fmt.Sprintf("server error: %s", err)))
		return
	}

	reply, err := protocol.NewResult(msg.ID, result)
	if err != nil {
		t.logger.Error("marshal reply", zap.String("method", msg.Method), zap.Error(err))
		t.sendError(protocol.NewError(msg.ID, protocol.CodeServerError, err.Error()))
		return
	}
	if err := t.Send(reply); err != nil {
		t.logger.Error("send reply", zap.String("id", msg.ID), zap.Error(err))
	}
}

func (t *Transport) sendError(msg protocol.Message) {
	if err := t.Send(msg); err != nil {
		t.logger.Error("send error frame", zap.Error(err))
	}
}
