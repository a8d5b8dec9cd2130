package host

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/standardbeagle/brdg/internal/protocol"
)

// shutdownGrace is how long the shutdown handler waits after replying
// before triggering teardown, so the acknowledgment reaches the companion
// before the pipe closes.
const shutdownGrace = 100 * time.Millisecond

// registerControl wires the companion-facing control methods.
func (h *Host) registerControl() {
	h.transport.Handle("status", h.handleStatus)
	h.transport.Handle("init", h.handleInit)
	h.transport.Handle("ping", h.handlePing)
	h.transport.Handle("shutdown", h.handleShutdown)
}

// handleStatus reports host identity and liveness.
func (h *Host) handleStatus(ctx context.Context, params json.RawMessage) (any, error) {
	h.touch()
	return protocol.HostStatus{
		HostInfo:    h.info,
		IsConnected: h.transport.Connected(),
		StartTime:   h.startTime.Unix(),
		LastPing:    h.lastPing.Load(),
		SSEPort:     strconv.Itoa(h.cfg.SSEPort),
		SSEBaseURL:  h.cfg.SSEBaseURL,
	}, nil
}

// handleInit is the companion's hello. Idempotent; the extension version is
// only logged, version skew is tolerated as long as the envelope parses.
func (h *Host) handleInit(ctx context.Context, params json.RawMessage) (any, error) {
	h.touch()

	var hello struct {
		Version   string `json:"version"`
		UserAgent string `json:"userAgent"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &hello); err != nil {
			return nil, &protocol.RPCError{
				Code:    protocol.CodeInvalidParams,
				Message: "init params must be an object",
			}
		}
	}

	h.logger.Info("companion initialized",
		zap.String("extensionVersion", hello.Version),
		zap.String("userAgent", hello.UserAgent))

	return map[string]any{
		"status": "ok",
		"host":   h.info,
	}, nil
}

func (h *Host) handlePing(ctx context.Context, params json.RawMessage) (any, error) {
	h.touch()
	return map[string]any{"pong": true, "time": time.Now().Unix()}, nil
}

// handleShutdown acknowledges first, then triggers teardown after a short
// grace period. Repeated shutdown requests are acknowledged but only the
// first one fires.
func (h *Host) handleShutdown(ctx context.Context, params json.RawMessage) (any, error) {
	reason := "companion requested shutdown"
	var req struct {
		Reason string `json:"reason"`
	}
	if len(params) > 0 && json.Unmarshal(params, &req) == nil && req.Reason != "" {
		reason = "companion: " + req.Reason
	}

	h.logger.Info("shutdown requested", zap.String("reason", reason))
	time.AfterFunc(shutdownGrace, func() {
		h.TriggerShutdown(reason)
	})

	return map[string]any{"status": "shutting_down"}, nil
}

func (h *Host) touch() {
	h.lastPing.Store(time.Now().Unix())
}
