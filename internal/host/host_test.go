package host

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/brdg/internal/config"
	"github.com/standardbeagle/brdg/internal/protocol"
	"github.com/standardbeagle/brdg/internal/rpc"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.SSEPort = 0 // ephemeral port; the test never dials it
	cfg.WSListen = ""
	return cfg
}

func testHost(t *testing.T) (*Host, *pipeCompanion) {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	h := New(Options{
		Config: testConfig(),
		Info:   protocol.HostInfo{Name: "brdg-test", Version: "0.0.1", RunMode: config.ModeProduction},
		Stdin:  inR,
		Stdout: outW,
	})
	return h, &pipeCompanion{t: t, w: inW, r: outR}
}

// pipeCompanion speaks native messaging on the far pipe ends.
type pipeCompanion struct {
	t *testing.T
	w io.Writer
	r io.Reader
}

func (c *pipeCompanion) send(msg protocol.Message) {
	payload, err := json.Marshal(msg)
	require.NoError(c.t, err)

	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	_, err = c.w.Write(frame)
	require.NoError(c.t, err)
}

func (c *pipeCompanion) recv() protocol.Message {
	var head [4]byte
	_, err := io.ReadFull(c.r, head[:])
	require.NoError(c.t, err)

	payload := make([]byte, binary.LittleEndian.Uint32(head[:]))
	_, err = io.ReadFull(c.r, payload)
	require.NoError(c.t, err)

	var msg protocol.Message
	require.NoError(c.t, json.Unmarshal(payload, &msg))
	return msg
}

func (c *pipeCompanion) close() {
	if closer, ok := c.w.(io.Closer); ok {
		closer.Close()
	}
}

func TestTriggerShutdownSingleFire(t *testing.T) {
	h, _ := testHost(t)

	h.TriggerShutdown("first reason")
	h.TriggerShutdown("second reason")

	select {
	case <-h.shutdownCh:
	default:
		t.Fatal("shutdown channel not closed")
	}
	assert.Equal(t, "first reason", *h.shutdownReason.Load())
}

func TestBuildCapabilities(t *testing.T) {
	h, _ := testHost(t)
	require.NoError(t, h.connect(context.Background()))
	require.NoError(t, h.buildCapabilities())

	assert.Len(t, h.reg.Tools(), 6)
	assert.Len(t, h.reg.Resources(), 2)

	names := make([]string, 0, 6)
	for _, tool := range h.reg.Tools() {
		names = append(names, tool.Name())
	}
	assert.Contains(t, names, "navigate_to")
	assert.Contains(t, names, "click_element")
	assert.Contains(t, names, "type_value")
	assert.Contains(t, names, "scroll_page")
	assert.Contains(t, names, "get_dom_extra_elements")
	assert.Contains(t, names, "manage_tabs")
}

func TestHandleStatus(t *testing.T) {
	h, _ := testHost(t)
	require.NoError(t, h.connect(context.Background()))
	h.startTime = time.Now()

	result, err := h.handleStatus(context.Background(), nil)
	require.NoError(t, err)

	status, ok := result.(protocol.HostStatus)
	require.True(t, ok)
	assert.Equal(t, "brdg-test", status.Name)
	assert.Equal(t, "0.0.1", status.Version)
	assert.Equal(t, config.ModeProduction, status.RunMode)
	assert.NotZero(t, status.LastPing)
}

func TestHandleInit(t *testing.T) {
	h, _ := testHost(t)
	require.NoError(t, h.connect(context.Background()))

	_, err := h.handleInit(context.Background(), json.RawMessage(`"not an object"`))
	var rpcErr *protocol.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, protocol.CodeInvalidParams, rpcErr.Code)

	result, err := h.handleInit(context.Background(),
		json.RawMessage(`{"version":"1.2.3","userAgent":"test"}`))
	require.NoError(t, err)
	reply, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", reply["status"])
}

func TestHandleShutdownTriggersOnce(t *testing.T) {
	h, _ := testHost(t)
	require.NoError(t, h.connect(context.Background()))

	result, err := h.handleShutdown(context.Background(), json.RawMessage(`{"reason":"update"}`))
	require.NoError(t, err)
	reply := result.(map[string]any)
	assert.Equal(t, "shutting_down", reply["status"])

	// The trigger fires after the reply grace period, not immediately.
	select {
	case <-h.shutdownCh:
		t.Fatal("shutdown fired before the grace period")
	default:
	}

	select {
	case <-h.shutdownCh:
	case <-time.After(time.Second):
		t.Fatal("shutdown never fired")
	}
	assert.Equal(t, "companion: update", *h.shutdownReason.Load())

	// Repeated requests are acknowledged but do not change the reason.
	_, err = h.handleShutdown(context.Background(), json.RawMessage(`{"reason":"again"}`))
	require.NoError(t, err)
	time.Sleep(2 * shutdownGrace)
	assert.Equal(t, "companion: update", *h.shutdownReason.Load())
}

func TestRunServesControlCalls(t *testing.T) {
	h, comp := testHost(t)

	runDone := make(chan error, 1)
	go func() {
		runDone <- h.Run(context.Background())
	}()

	comp.send(protocol.Message{Type: protocol.TypeRequest, ID: "s1", Method: "status"})
	reply := comp.recv()
	assert.Equal(t, "s1", reply.ID)
	require.Nil(t, reply.Error)

	var status protocol.HostStatus
	require.NoError(t, json.Unmarshal(reply.Result, &status))
	assert.Equal(t, "brdg-test", status.Name)
	assert.True(t, status.IsConnected)
	assert.Eventually(t, func() bool { return h.State() == StateRunning },
		time.Second, time.Millisecond)

	// Companion hangs up; Run tears down and returns cleanly.
	comp.close()

	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run never returned after disconnect")
	}
	assert.Equal(t, StateStopped, h.State())
}

func TestShutdownCleanWithIdleStreamingClient(t *testing.T) {
	h, _ := testHost(t)

	runDone := make(chan error, 1)
	go func() {
		runDone <- h.Run(context.Background())
	}()
	require.Eventually(t, func() bool { return h.State() == StateRunning },
		time.Second, time.Millisecond)

	// Attach an event-stream client and leave it idle; it holds its
	// connection open for as long as it likes.
	conn, err := net.Dial("tcp", h.srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /sse HTTP/1.1\r\nHost: localhost\r\nAccept: text/event-stream\r\n\r\n"))
	require.NoError(t, err)

	// Wait for the stream to open before triggering shutdown.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.NoError(t, err)

	start := time.Now()
	h.TriggerShutdown("test shutdown")

	// The idle session must not turn a routine shutdown into a failure,
	// and the host must not wait on it past the drain cap.
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(drainTimeout + 3*time.Second):
		t.Fatal("Run never returned with a streaming client attached")
	}
	assert.Less(t, time.Since(start), drainTimeout+time.Second)
	assert.Equal(t, StateStopped, h.State())
}

func TestShutdownFailsInFlightCompanionCalls(t *testing.T) {
	h, comp := testHost(t)

	runDone := make(chan error, 1)
	go func() {
		runDone <- h.Run(context.Background())
	}()
	require.Eventually(t, func() bool { return h.State() == StateRunning },
		time.Second, time.Millisecond)

	// A tool call blocked on the companion: the request goes out but no
	// reply ever comes back.
	callDone := make(chan error, 1)
	go func() {
		_, err := h.broker.Call(context.Background(), "click_element", nil, time.Minute)
		callDone <- err
	}()

	msg := comp.recv()
	assert.Equal(t, "click_element", msg.Method)
	require.Eventually(t, func() bool { return h.broker.Pending() == 1 },
		time.Second, time.Millisecond)

	start := time.Now()
	h.TriggerShutdown("test shutdown")

	// The call resolves promptly with the shutdown error, not after its
	// own minute-long timeout.
	select {
	case err := <-callDone:
		assert.ErrorIs(t, err, rpc.ErrShuttingDown)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight call was not failed at shutdown")
	}
	assert.Less(t, time.Since(start), time.Second)

	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(drainTimeout + 3*time.Second):
		t.Fatal("Run never returned")
	}
}

func TestRunShutdownViaSignalContext(t *testing.T) {
	h, _ := testHost(t)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- h.Run(ctx)
	}()

	// Give startup a moment, then simulate the signal.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run never returned after cancellation")
	}
}
