// Package rpc correlates outbound requests to the companion with their
// eventual asynchronous replies.
//
// The Broker turns the transport's identifier-tagged reply stream into
// synchronous-looking calls: Call blocks its own goroutine on a per-request
// channel until the matching reply arrives, the timeout elapses, or the
// transport disconnects. The pending table is the single source of truth for
// which calls are still outstanding; exactly one of resolution, timeout, and
// mass failure wins for any given request.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/standardbeagle/brdg/internal/protocol"
)

// DefaultCallTimeout applies when a caller passes a zero timeout.
const DefaultCallTimeout = 5 * time.Second

var (
	// ErrTimeout means the companion did not reply within the call's
	// timeout. The entry is removed; a late reply is dropped as unmatched.
	ErrTimeout = errors.New("call timed out")

	// ErrShuttingDown means the host began shutdown while the call was
	// pending. Distinct from ErrTimeout so callers can tell "too slow"
	// from "host is going away".
	ErrShuttingDown = errors.New("host is shutting down")
)

// Sender is the transport-facing half the broker needs: deliver one framed
// message to the companion.
type Sender interface {
	Send(msg protocol.Message) error
}

// outcome is the terminal result of a pending request. Exactly one is ever
// delivered per request, on a buffered channel, so the producer never blocks.
type outcome struct {
	result json.RawMessage
	err    error
}

// Broker owns the pending-request table.
type Broker struct {
	logger *zap.Logger
	sender Sender

	mu      sync.Mutex
	pending map[string]chan outcome
}

// NewBroker creates a broker that sends requests through sender.
func NewBroker(sender Sender, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		logger:  logger,
		sender:  sender,
		pending: make(map[string]chan outcome),
	}
}

// Call sends method/params to the companion and blocks until the correlated
// reply, the timeout, cancellation, or a disconnect resolves it. The raw
// result is returned on success; a companion-reported failure surfaces as a
// *protocol.RPCError.
func (b *Broker) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	id := uuid.NewString()
	msg, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan outcome, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	b.logger.Debug("sending call", zap.String("method", method), zap.String("id", id))

	if err := b.sender.Send(msg); err != nil {
		b.take(id)
		return nil, fmt.Errorf("send %q: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, fmt.Errorf("call %q: %w", method, o.err)
		}
		return o.result, nil

	case <-timer.C:
		if !b.take(id) {
			// A reply raced the timer and won; it is already queued.
			o := <-ch
			if o.err != nil {
				return nil, fmt.Errorf("call %q: %w", method, o.err)
			}
			return o.result, nil
		}
		return nil, fmt.Errorf("call %q after %v: %w", method, timeout, ErrTimeout)

	case <-ctx.Done():
		if !b.take(id) {
			o := <-ch
			if o.err != nil {
				return nil, fmt.Errorf("call %q: %w", method, o.err)
			}
			return o.result, nil
		}
		return nil, fmt.Errorf("call %q: %w", method, ctx.Err())
	}
}

// Resolve matches a reply to its pending request. Reports false for
// unmatched identifiers (late replies after a timeout, duplicates).
func (b *Broker) Resolve(msg protocol.Message) bool {
	b.mu.Lock()
	ch, ok := b.pending[msg.ID]
	if ok {
		delete(b.pending, msg.ID)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}

	if msg.Error != nil {
		ch <- outcome{err: msg.Error}
	} else {
		ch <- outcome{result: msg.Result}
	}
	return true
}

// FailAll resolves every pending request with err in one pass. Used on
// transport disconnect and at shutdown so no caller waits past the outage.
func (b *Broker) FailAll(err error) {
	b.mu.Lock()
	drained := b.pending
	b.pending = make(map[string]chan outcome)
	b.mu.Unlock()

	if len(drained) > 0 {
		b.logger.Warn("failing pending calls", zap.Int("count", len(drained)), zap.Error(err))
	}
	for _, ch := range drained {
		ch <- outcome{err: err}
	}
}

// Pending returns the number of outstanding calls.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// take removes id from the pending table, reporting whether it was present.
// Removal under the lock is what makes resolution and timeout mutually
// exclusive: whichever side removes the entry owns the outcome.
func (b *Broker) take(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[id]; !ok {
		return false
	}
	delete(b.pending, id)
	return true
}
