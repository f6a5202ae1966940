package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-filecache/types"
	"github.com/saiset-co/sai-filecache/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// StatsFunc supplies the /stats payload. The cache wires it to its own
// counters so the server stays decoupled from cache internals.
type StatsFunc func(ctx context.Context) (interface{}, error)

// DebugServer is the observability listener. It exposes /health, /metrics
// and /stats and serves nothing cache-protocol related.
type DebugServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *types.ServerConfig
	metrics         types.MetricsManager
	health          types.HealthManager
	stats           StatsFunc
	server          *fasthttp.Server
	listener        net.Listener
	promHandler     fasthttp.RequestHandler
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewDebugServer(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, health types.HealthManager, stats StatsFunc) (*DebugServer, error) {
	serverConfig := config.GetConfig().Server

	serverCtx, cancel := context.WithCancel(ctx)

	s := &DebugServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		config:          serverConfig,
		metrics:         metrics,
		health:          health,
		stats:           stats,
		shutdownTimeout: time.Duration(serverConfig.ShutdownTimeout) * time.Second,
	}

	if s.shutdownTimeout == 0 {
		s.shutdownTimeout = 5 * time.Second
	}

	if registrar, ok := metrics.(interface{ Registry() *prometheus.Registry }); ok {
		handler := promhttp.HandlerFor(registrar.Registry(), promhttp.HandlerOpts{})
		s.promHandler = fasthttpadaptor.NewFastHTTPHandler(handler)
	}

	s.state.Store(StateStopped)

	return s, nil
}

func (s *DebugServer) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrCacheIsRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	s.server = &fasthttp.Server{
		Handler:      s.handleRequest,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to bind debug server")
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil {
			s.logger.Error("Debug server stopped serving", zap.Error(err))
		}
	}()

	s.logger.Info("Debug server started", zap.String("addr", addr))
	return nil
}

func (s *DebugServer) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrCacheIsNotRunning
	}

	defer func() {
		s.setState(StateStopped)
		s.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.server.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("Debug server shutdown timeout", zap.Error(err))
	}

	s.logger.Info("Debug server stopped")
	return nil
}

func (s *DebugServer) IsRunning() bool {
	return s.getState() == StateRunning
}

// Addr returns the bound address, useful when the configured port is 0.
func (s *DebugServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *DebugServer) handleRequest(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/health":
		s.handleHealth(ctx)
	case "/metrics":
		s.handleMetrics(ctx)
	case "/stats":
		s.handleStats(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *DebugServer) handleHealth(ctx *fasthttp.RequestCtx) {
	if s.health == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}

	report := s.health.Check(s.ctx)

	data, err := utils.Marshal(report)
	if err != nil {
		s.logger.Error("Failed to encode health report", zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	if report.Status == types.HealthStatusUnhealthy {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	} else {
		ctx.SetStatusCode(fasthttp.StatusOK)
	}

	if _, err := ctx.Write(data); err != nil {
		s.logger.Error("Failed to write health report", zap.Error(err))
	}
}

func (s *DebugServer) handleMetrics(ctx *fasthttp.RequestCtx) {
	if s.metrics == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}

	// Prometheus-backed managers serve the native exposition format, the
	// rest fall back to the JSON snapshot.
	if s.promHandler != nil {
		s.promHandler(ctx)
		return
	}

	data, err := s.metrics.GetMetrics()
	if err != nil {
		s.logger.Error("Failed to gather metrics", zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)

	if _, err := ctx.Write(data); err != nil {
		s.logger.Error("Failed to write metrics", zap.Error(err))
	}
}

func (s *DebugServer) handleStats(ctx *fasthttp.RequestCtx) {
	if s.stats == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}

	stats, err := s.stats(s.ctx)
	if err != nil {
		s.logger.Error("Failed to collect stats", zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}

	data, err := utils.Marshal(stats)
	if err != nil {
		s.logger.Error("Failed to encode stats", zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)

	if _, err := ctx.Write(data); err != nil {
		s.logger.Error("Failed to write stats", zap.Error(err))
	}
}

func (s *DebugServer) getState() State {
	return s.state.Load().(State)
}

func (s *DebugServer) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *DebugServer) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
