// Package host wires the transport, correlation broker, capability registry
// and streaming server into one process and owns its lifecycle: startup
// ordering, the shutdown trigger, and the teardown sequence.
package host

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/standardbeagle/brdg/internal/config"
	"github.com/standardbeagle/brdg/internal/native"
	"github.com/standardbeagle/brdg/internal/protocol"
	"github.com/standardbeagle/brdg/internal/registry"
	"github.com/standardbeagle/brdg/internal/resources"
	"github.com/standardbeagle/brdg/internal/rpc"
	"github.com/standardbeagle/brdg/internal/server"
	"github.com/standardbeagle/brdg/internal/tools"
)

// drainTimeout caps the graceful drain of streaming connections at
// shutdown. Event-stream sessions stay open for as long as the client
// likes, so the drain only benefits request/response exchanges in flight;
// whatever is still connected afterward is force-closed.
const drainTimeout = 2 * time.Second

// State is the host lifecycle phase. Transitions are one-way:
// Starting -> Running -> ShuttingDown -> Stopped.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options configures a Host.
type Options struct {
	Config *config.Config
	Logger *zap.Logger
	Info   protocol.HostInfo

	// Stdin and Stdout override the process pipes. Tests substitute
	// io.Pipe ends; production leaves them nil.
	Stdin  io.Reader
	Stdout io.Writer
}

// Host is the lifecycle coordinator.
type Host struct {
	logger *zap.Logger
	cfg    *config.Config
	info   protocol.HostInfo
	stdin  io.Reader
	stdout io.Writer

	transport *native.Transport
	broker    *rpc.Broker
	reg       *registry.Registry
	srv       *server.Server

	startTime time.Time
	lastPing  atomic.Int64
	state     atomic.Int32

	shutdownOnce   sync.Once
	shutdownCh     chan struct{}
	shutdownReason atomic.Pointer[string]
}

// New creates an unstarted host. Component wiring happens in Run because the
// development-mode transport blocks on a companion connecting.
func New(opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		logger:     logger,
		cfg:        opts.Config,
		info:       opts.Info,
		stdin:      opts.Stdin,
		stdout:     opts.Stdout,
		shutdownCh: make(chan struct{}),
	}
}

// Run wires the components, starts them in dependency order, and blocks
// until the context is canceled, the companion disconnects, or a shutdown
// request fires. Teardown runs exactly once before Run returns.
func (h *Host) Run(ctx context.Context) error {
	h.startTime = time.Now()

	if err := h.connect(ctx); err != nil {
		return err
	}
	if err := h.buildCapabilities(); err != nil {
		return err
	}
	h.registerControl()

	srv, err := server.New(server.Config{
		Logger:   h.logger,
		Registry: h.reg,
		HostInfo: h.info,
		Addr:     h.cfg.ListenAddr(),
	})
	if err != nil {
		return err
	}
	h.srv = srv

	if err := h.transport.Start(ctx); err != nil {
		return err
	}
	if err := h.srv.Start(); err != nil {
		h.transport.Stop()
		return err
	}

	h.state.Store(int32(StateRunning))
	h.logger.Info("host running",
		zap.String("name", h.info.Name),
		zap.String("version", h.info.Version),
		zap.String("runMode", h.info.RunMode),
		zap.String("sse", h.cfg.SSEBaseURL))

	var reason string
	select {
	case <-ctx.Done():
		reason = "signal received"
	case <-h.transport.Done():
		reason = "companion disconnected"
	case <-h.shutdownCh:
		if r := h.shutdownReason.Load(); r != nil {
			reason = *r
		}
	}
	return h.teardown(reason)
}

// TriggerShutdown requests shutdown with a reason. Only the first call has
// any effect; later calls and reasons are dropped.
func (h *Host) TriggerShutdown(reason string) {
	h.shutdownOnce.Do(func() {
		h.shutdownReason.Store(&reason)
		close(h.shutdownCh)
	})
}

// connect establishes the companion transport: stdio pipes in production, a
// WebSocket accept loop in development mode.
func (h *Host) connect(ctx context.Context) error {
	if h.cfg.Development() && h.cfg.WSListen != "" {
		t, err := native.AcceptWebSocket(ctx, h.cfg.WSListen, h.logger)
		if err != nil {
			return fmt.Errorf("companion endpoint: %w", err)
		}
		h.transport = t
	} else {
		h.transport = native.New(native.Config{
			Stdin:  h.stdin,
			Stdout: h.stdout,
			Logger: h.logger,
		})
	}

	h.broker = rpc.NewBroker(h.transport, h.logger)
	h.transport.SetReplySink(h.broker)
	return nil
}

// buildCapabilities populates the registry and wires the push-fed caches.
// Any duplicate registration is a wiring bug; it aborts startup.
func (h *Host) buildCapabilities() error {
	h.reg = registry.New()

	currentState := resources.NewCurrentState(h.broker, h.logger)
	domState := resources.NewDOMState(h.broker, h.logger)

	for _, res := range []registry.Resource{currentState, domState} {
		if err := h.reg.RegisterResource(res); err != nil {
			return err
		}
	}

	for _, t := range []registry.Tool{
		tools.NewNavigate(h.broker, domState, h.logger),
		tools.NewClick(h.broker, h.logger),
		tools.NewTypeValue(h.broker, h.logger),
		tools.NewScroll(h.broker, h.logger),
		tools.NewExtraElements(domState, h.logger),
		tools.NewTabs(h.broker, h.logger),
	} {
		if err := h.reg.RegisterTool(t); err != nil {
			return err
		}
	}

	h.transport.HandlePush(protocol.TypeStateUpdate, currentState.HandleStateUpdate)
	h.transport.HandlePush(protocol.TypeDOMUpdate, domState.HandleDOMUpdate)
	return nil
}

// State reports the current lifecycle phase.
func (h *Host) State() State {
	return State(h.state.Load())
}

// teardown runs the shutdown sequence: stop accepting client work, fail the
// calls still waiting on the companion, then drop the transport. Teardown
// always completes; a drain that cannot finish is logged, not surfaced as a
// process failure.
func (h *Host) teardown(reason string) error {
	h.state.Store(int32(StateShuttingDown))
	h.logger.Info("shutting down", zap.String("reason", reason))

	// Shutdown stops accepting immediately, then drains. The drain cannot
	// finish while tool handlers sit in companion round-trips, so pending
	// calls are failed concurrently rather than after it.
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	drained := make(chan error, 1)
	go func() { drained <- h.srv.Shutdown(drainCtx) }()

	h.broker.FailAll(rpc.ErrShuttingDown)

	if err := <-drained; err != nil {
		// Idle event-stream sessions hold their connections open
		// indefinitely; closing them is part of a clean shutdown, not a
		// failure to report.
		h.logger.Warn("drain did not finish, closing streaming connections", zap.Error(err))
		if cerr := h.srv.Close(); cerr != nil {
			h.logger.Debug("server close", zap.Error(cerr))
		}
	}

	h.transport.Stop()

	h.state.Store(int32(StateStopped))
	h.logger.Info("shutdown complete")
	return nil
}
