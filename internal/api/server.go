package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Server provides the HTTP interface over the portfolio service.
type Server struct {
	server  *http.Server
	handler *Handler
	logger  *zap.Logger
}

// NewMux builds the route table for the API.
func NewMux(handler *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/transactions", handler.CreateTransaction)
	mux.HandleFunc("GET /api/transactions", handler.ListTransactions)
	mux.HandleFunc("DELETE /api/transactions/{refID}", handler.DeleteTransaction)
	mux.HandleFunc("GET /api/positions", handler.ListPositions)
	mux.HandleFunc("GET /api/positions/{symbol}", handler.GetPosition)
	mux.HandleFunc("GET /health", handler.Health)
	return mux
}

// NewServer creates a new Server listening on the given port.
func NewServer(port int, handler *Handler, logger *zap.Logger) *Server {
	mux := NewMux(handler)

	return &Server{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		handler: handler,
		logger:  logger.Named("api-server"),
	}
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}
