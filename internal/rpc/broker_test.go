package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/brdg/internal/protocol"
)

// fakeSender captures outbound messages and can reply through the broker
// like the transport would.
type fakeSender struct {
	mu     sync.Mutex
	sent   []protocol.Message
	onSend func(protocol.Message)
	err    error
}

func (s *fakeSender) Send(msg protocol.Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	onSend := s.onSend
	err := s.err
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if onSend != nil {
		go onSend(msg)
	}
	return nil
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSender) snapshot() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.sent...)
}

func TestCallCorrelatesConcurrentReplies(t *testing.T) {
	sender := &fakeSender{}
	b := NewBroker(sender, nil)

	// Echo responder: every request is answered with its own params, so a
	// cross-matched reply would be visible as a wrong payload.
	sender.onSend = func(msg protocol.Message) {
		reply, err := protocol.NewResult(msg.ID, json.RawMessage(msg.Params))
		require.NoError(t, err)
		b.Resolve(reply)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := b.Call(context.Background(), "echo", map[string]int{"n": i}, time.Second)
			require.NoError(t, err)
			assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(result))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, n, sender.sentCount())
}

func TestCallTimeoutLeavesOthersPending(t *testing.T) {
	sender := &fakeSender{}
	b := NewBroker(sender, nil)

	slow := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), "never_answered", nil, 50*time.Millisecond)
		slow <- err
	}()

	// A second call issued in the same window gets its reply and is
	// untouched by the first one timing out.
	done := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), "answered", nil, time.Second)
		done <- err
	}()

	// Reply only to the "answered" call once both are pending.
	require.Eventually(t, func() bool { return sender.sentCount() == 2 }, time.Second, time.Millisecond)
	for _, msg := range sender.snapshot() {
		if msg.Method == "answered" {
			reply, err := protocol.NewResult(msg.ID, map[string]bool{"ok": true})
			require.NoError(t, err)
			require.True(t, b.Resolve(reply))
		}
	}

	assert.NoError(t, <-done)
	assert.ErrorIs(t, <-slow, ErrTimeout)
	assert.Equal(t, 0, b.Pending())
}

func TestCallCompanionError(t *testing.T) {
	sender := &fakeSender{}
	b := NewBroker(sender, nil)

	sender.onSend = func(msg protocol.Message) {
		b.Resolve(protocol.Message{
			Type:  protocol.TypeResponse,
			ID:    msg.ID,
			Error: &protocol.RPCError{Code: protocol.CodeInvalidParams, Message: "nope"},
		})
	}

	_, err := b.Call(context.Background(), "bad", nil, time.Second)
	require.Error(t, err)

	var rpcErr *protocol.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, protocol.CodeInvalidParams, rpcErr.Code)
}

func TestCallContextCanceled(t *testing.T) {
	sender := &fakeSender{}
	b := NewBroker(sender, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Call(ctx, "slow", nil, time.Minute)
		done <- err
	}()

	require.Eventually(t, func() bool { return b.Pending() == 1 }, time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, b.Pending())
}

func TestFailAllResolvesEverything(t *testing.T) {
	sender := &fakeSender{}
	b := NewBroker(sender, nil)

	const n = 10
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := b.Call(context.Background(), "stuck", nil, time.Minute)
			results <- err
		}()
	}
	require.Eventually(t, func() bool { return b.Pending() == n }, time.Second, time.Millisecond)

	b.FailAll(ErrShuttingDown)

	for i := 0; i < n; i++ {
		assert.ErrorIs(t, <-results, ErrShuttingDown)
	}
	assert.Equal(t, 0, b.Pending())
}

func TestResolveUnknownID(t *testing.T) {
	b := NewBroker(&fakeSender{}, nil)

	// A reply that arrives after its call timed out has no pending entry.
	resolved := b.Resolve(protocol.Message{
		Type:   protocol.TypeResponse,
		ID:     "long-gone",
		Result: json.RawMessage(`{}`),
	})
	assert.False(t, resolved)
}

func TestCallSendFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("pipe broken")}
	b := NewBroker(sender, nil)

	_, err := b.Call(context.Background(), "anything", nil, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipe broken")
	assert.Equal(t, 0, b.Pending())
}

func TestCallDefaultTimeout(t *testing.T) {
	sender := &fakeSender{}
	b := NewBroker(sender, nil)

	sender.onSend = func(msg protocol.Message) {
		reply, err := protocol.NewResult(msg.ID, map[string]bool{"ok": true})
		require.NoError(t, err)
		b.Resolve(reply)
	}

	// Zero timeout falls back to the default rather than failing instantly.
	result, err := b.Call(context.Background(), "quick", nil, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}
