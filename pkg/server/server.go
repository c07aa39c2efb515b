package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/ag-ui/go-dispatch/pkg/composition"
	"github.com/ag-ui/go-dispatch/pkg/config"
	"github.com/ag-ui/go-dispatch/pkg/middleware"
	"github.com/ag-ui/go-dispatch/pkg/routing"
	"github.com/ag-ui/go-dispatch/pkg/tools"
	"github.com/ag-ui/go-dispatch/pkg/transport"
)

const (
	writeWait       = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server hosts the dispatch gRPC service and the HTTP monitor.
type Server struct {
	config   config.ServerConfig
	router   *routing.Router
	engine   *composition.Engine
	service  *transport.Service
	gatherer prometheus.Gatherer
	logger   logrus.FieldLogger

	grpcServer *grpc.Server
	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	grpcLn  net.Listener
	httpLn  net.Listener
	closing chan struct{}
	once    sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used by the server and its interceptors.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGatherer sets the registry served on /metrics. The default is
// prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// New creates a server for router and engine. Nothing listens until
// Listen or Run is called.
func New(cfg config.ServerConfig, router *routing.Router, engine *composition.Engine, opts ...Option) (*Server, error) {
	s := &Server{
		config:   cfg,
		router:   router,
		engine:   engine,
		gatherer: prometheus.DefaultGatherer,
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.logger = l
	}
	if s.config.StreamInterval <= 0 {
		s.config.StreamInterval = 2 * time.Second
	}

	svc, err := transport.NewService(router, engine, s.logger)
	if err != nil {
		return nil, err
	}
	s.service = svc

	serverOpts := append([]grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}, middleware.ServerOptions(s.logger)...)
	s.grpcServer = grpc.NewServer(serverOpts...)
	transport.RegisterDispatchServer(s.grpcServer, s.service)

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the monitor's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("GET /breakers", s.handleBreakers)
	mux.HandleFunc("POST /breakers/{id}/reset", s.handleBreakerReset)
	mux.HandleFunc("POST /cache/clear", s.handleCacheClear)
	mux.HandleFunc("GET /compositions", s.handleCompositions)
	mux.HandleFunc("GET /ws", s.handleStream)
	return mux
}

// Listen opens both listeners, capping concurrent monitor connections
// at max_connections.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcLn != nil {
		return nil
	}

	grpcLn, err := net.Listen("tcp", s.config.GRPCAddress)
	if err != nil {
		return fmt.Errorf("listening on gRPC address: %w", err)
	}
	httpLn, err := net.Listen("tcp", s.config.MonitorAddress)
	if err != nil {
		_ = grpcLn.Close()
		return fmt.Errorf("listening on monitor address: %w", err)
	}
	if s.config.MaxConnections > 0 {
		grpcLn = netutil.LimitListener(grpcLn, s.config.MaxConnections)
		httpLn = netutil.LimitListener(httpLn, s.config.MaxConnections)
	}
	s.grpcLn, s.httpLn = grpcLn, httpLn
	return nil
}

// GRPCAddr returns the bound gRPC address, or nil before Listen.
func (s *Server) GRPCAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcLn == nil {
		return nil
	}
	return s.grpcLn.Addr()
}

// MonitorAddr returns the bound monitor address, or nil before Listen.
func (s *Server) MonitorAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

// Run serves until ctx is cancelled or a server fails, then shuts down.
// It returns nil after a shutdown triggered by ctx.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	grpcLn, httpLn := s.grpcLn, s.httpLn
	s.mu.Unlock()

	errCh := make(chan error, 2)
	go func() {
		s.logger.WithField("addr", grpcLn.Addr().String()).Info("gRPC server listening")
		if err := s.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	go func() {
		s.logger.WithField("addr", httpLn.Addr().String()).Info("monitor listening")
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("monitor server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	case serveErr = <-errCh:
		s.logger.WithError(serveErr).Error("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)
	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// Shutdown stops accepting calls, closes live streams and waits for
// in-flight gRPC calls until ctx ends, after which they are cut off.
func (s *Server) Shutdown(ctx context.Context) error {
	s.once.Do(func() { close(s.closing) })

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	err := s.httpServer.Shutdown(ctx)
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
		<-stopped
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Snapshot())
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	format, err := tools.ParseProviderFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	out, err := tools.ExportTools(s.router.Registry().List(nil), format)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.router.GetCircuitBreakerStatus())
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.router.Registry().Get(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown tool %q", id)})
		return
	}
	s.router.ResetCircuitBreaker(id)
	s.logger.WithField("tool_id", id).Info("circuit breaker reset from monitor")
	writeJSON(w, http.StatusOK, s.router.GetCircuitBreakerStatus()[id])
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.router.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

type compositionsView struct {
	Active   []composition.ActiveComposition `json:"active"`
	Metrics  composition.CompositionMetrics  `json:"metrics"`
	Patterns []composition.ToolPattern       `json:"patterns"`
}

func (s *Server) handleCompositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, compositionsView{
		Active:   s.engine.GetActiveCompositions(),
		Metrics:  s.engine.GetCompositionMetrics(),
		Patterns: s.engine.GetToolPatterns(),
	})
}

// StreamMessage is one frame of the /ws stats stream.
type StreamMessage struct {
	Type      string                  `json:"type"`
	Timestamp time.Time               `json:"timestamp"`
	Stats     transport.StatsResponse `json:"stats"`
}

// handleStream pushes a stats snapshot on connect and then every
// stream_interval until the client goes away or the server shuts down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// the read loop only watches for the peer closing the connection
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.config.StreamInterval)
	defer ticker.Stop()

	send := func() error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(StreamMessage{
			Type:      "stats",
			Timestamp: time.Now(),
			Stats:     s.service.Snapshot(),
		})
	}
	if err := send(); err != nil {
		return
	}
	for {
		select {
		case <-ticker.C:
			if err := send(); err != nil {
				s.logger.WithError(err).Debug("stats stream write failed")
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
