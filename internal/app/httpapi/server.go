package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/R3E-Network/program_portal/internal/app/system"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

var _ system.Service = (*Server)(nil)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server runs the API as a lifecycle-managed service.
type Server struct {
	handler *Handler
	cfg     ServerConfig
	log     *logger.Logger

	mu     sync.Mutex
	srv    *http.Server
	cancel context.CancelFunc
	done   chan struct{}
	addr   string
}

// NewServer wraps handler in an HTTP listener.
func NewServer(handler *Handler, cfg ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("http-server")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	return &Server{handler: handler, cfg: cfg, log: log}
}

func (s *Server) Name() string { return "http-server" }

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.handler.limiter.StartCleanup(runCtx, 5*time.Minute)

	s.srv = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.cancel = cancel
	s.done = make(chan struct{})
	s.addr = ln.Addr().String()

	srv, done := s.srv, s.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server stopped")
		}
	}()
	s.log.WithField("addr", s.addr).Info("http server listening")
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel, done := s.srv, s.cancel, s.done
	s.srv, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	cancel()
	err := srv.Shutdown(ctx)
	<-done
	if s.handler.sink != nil {
		if cerr := s.handler.sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.log.Info("http server stopped")
	return err
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
