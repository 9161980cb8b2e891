// Package server assembles and runs the teams service runtime.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	httpapi "github.com/Thomas0321/badminton-app/internal/services/teams/api/http"
	"github.com/Thomas0321/badminton-app/internal/services/teams/domain"
	storagesqlite "github.com/Thomas0321/badminton-app/internal/services/teams/storage/sqlite"
)

const shutdownGrace = 10 * time.Second

// Config holds the teams service runtime configuration.
type Config struct {
	Port int
	// Addr overrides Port when set, e.g. "127.0.0.1:0" in tests.
	Addr      string
	DBPath    string
	JWTSecret []byte

	Limits       domain.Limits
	ReapInterval time.Duration

	RateLimitRequests int
	RateLimitWindow   time.Duration

	Logger *slog.Logger
}

// Server hosts the teams HTTP API and its background reaper.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *storagesqlite.Store
	reaper     *domain.Reaper
	logger     *slog.Logger
}

// New creates a configured teams server listening per cfg.
func New(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}

	addr := cfg.Addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Port)
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	store, err := openTeamsStore(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	service := domain.NewService(store, cfg.Limits, nil, nil)
	reaper := domain.NewReaper(store, nil, logger, cfg.ReapInterval)
	handler := httpapi.NewHandler(logger, service, reaper, nil)
	router := httpapi.NewRouter(logger, handler, httpapi.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	return &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		store:  store,
		reaper: reaper,
		logger: logger,
	}, nil
}

// Addr returns the listener address for the teams server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a teams server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	teamsServer, err := New(cfg)
	if err != nil {
		return err
	}
	return teamsServer.Serve(ctx)
}

// Serve starts the teams server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go s.reaper.Run(reaperCtx)

	s.logger.Info("teams server listening", "addr", s.listener.Addr().String())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}

	select {
	case <-ctx.Done():
		stopReaper()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutdown teams server", "error", err)
		}
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}

func openTeamsStore(path string) (*storagesqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "teams.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := storagesqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("close teams store", "error", err)
	}
}
