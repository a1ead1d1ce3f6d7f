package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/XavierBriggs/Delphi/internal/logging"
)

// Server runs the HTTP surface
type Server struct {
	http *http.Server
	log  *logging.Logger
}

// NewServer wraps the router in an http.Server listening on addr
func NewServer(addr string, svc QueryService, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewNop()
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(svc, log),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.With("component", "http_server", "addr", addr),
	}
}

// Start serves in the background. Listen errors other than a clean
// shutdown are sent on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
