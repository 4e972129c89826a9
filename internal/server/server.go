// Package server exposes the interface query endpoint, the live packet WebSocket and the
// operational endpoints over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"netfeed/internal/analysis"
	"netfeed/internal/capture"
	"netfeed/internal/config"
	"netfeed/internal/discovery"
	nferr "netfeed/internal/errors"
	"netfeed/internal/models"
	"netfeed/internal/reporting"
	"netfeed/internal/stream"
)

// Options wires the server to the rest of the process.
type Options struct {
	Config           config.ServerConfig
	DefaultInterface string
	Manager          *stream.Manager
	Broadcaster      *stream.Broadcaster
	Stats            *analysis.TrafficStats // optional; enables /api/report
	Gatherer         prometheus.Gatherer    // optional; enables /metrics
	Interfaces       discovery.Lister
	Logger           *zap.Logger
}

// Server is the subscriber-facing HTTP server.
type Server struct {
	opts     Options
	logger   *zap.Logger
	router   *mux.Router
	upgrader websocket.Upgrader

	// ctx bounds every live session; cancelled on shutdown.
	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

// New builds a server and its routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Interfaces == nil {
		opts.Interfaces = discovery.List
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:   opts,
		logger: opts.Logger.Named("server"),
		ctx:    ctx,
		cancel: cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  opts.Config.ReadBufferSize,
		WriteBufferSize: opts.Config.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.cors)

	r.HandleFunc("/api/interfaces", s.handleInterfaces).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/ws/live_packets", s.handleLivePackets).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	if s.opts.Stats != nil {
		r.HandleFunc("/api/report", s.handleReport).Methods(http.MethodGet)
	}
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Config.Listen)
	if err != nil {
		return nferr.Wrapf(err, nferr.KindTransport, "listen on %s", s.opts.Config.Listen)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then stops capture, disconnects every subscriber
// and drains in-flight requests within the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("Server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		s.cancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return nferr.Wrap(err, nferr.KindTransport, "serve")
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down")
	timeout := s.opts.Config.ShutdownTimeout.Duration
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.cancel()
	s.opts.Manager.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return nferr.Wrap(err, nferr.KindTransport, "shutdown")
	}
	s.sessions.Wait()
	return nil
}

func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := s.opts.Interfaces()
	if err != nil {
		s.logger.Error("Listing interfaces failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list interfaces", err)
		return
	}

	resp := models.InterfacesResponse{Interfaces: make([]models.InterfaceInfo, 0, len(ifaces))}
	for _, iface := range ifaces {
		resp.Interfaces = append(resp.Interfaces, iface.Info())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLivePackets(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	ws := newWSConn(conn, s.opts.Config.WriteTimeout.Duration)
	session := stream.NewSession(ws, s.opts.Manager, s.opts.DefaultInterface, s.logger)
	s.logger.Debug("Subscriber connecting",
		zap.String("subscriber", session.ID),
		zap.String("remote", r.RemoteAddr))

	if err := session.Run(s.ctx); err != nil {
		s.logger.Info("Subscriber session ended with error",
			zap.String("subscriber", session.ID),
			zap.Error(err))
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Capture     string `json:"capture"`
	Interface   string `json:"interface,omitempty"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Capture:     capture.StateStopped.String(),
		Subscribers: s.opts.Broadcaster.Len(),
	}
	if loop := s.opts.Manager.Loop(); loop != nil {
		resp.Capture = loop.State().String()
		resp.Interface = s.opts.Manager.Interface()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := reporting.GenerateSessionReport(w, s.opts.Stats, time.Now()); err != nil {
		s.logger.Error("Rendering report failed", zap.Error(err))
	}
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.opts.Config.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.opts.Config.AllowedOrigin
	if allowed == "" || allowed == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == allowed
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	writeJSON(w, status, response)
}
