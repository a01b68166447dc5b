package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/quorumlabs/slotqueue/internal/config"
)

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	handler    *Handler
	logger     log.Logger
	cfg        *config.APIConfig
}

// NewServer creates a new API server.
func NewServer(cfg *config.APIConfig, handler *Handler) *Server {
	return &Server{
		handler: handler,
		logger:  log.New("module", "api-server"),
		cfg:     cfg,
	}
}

// Start begins listening for API requests.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	s.handler.register(mux)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", s.cfg.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		// Server started successfully
		return nil
	}
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","service":"slotqueued","timestamp":%d}`, time.Now().Unix())
}
