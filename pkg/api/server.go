package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ServerOptions tunes the HTTP surface.
type ServerOptions struct {
	Addr string
	// Requests per second admitted process-wide, with Burst headroom.
	RateLimit float64
	Burst     int
}

// Server is the resolve HTTP server with graceful shutdown.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

func NewServer(opts ServerOptions, h *Handler, logger *slog.Logger) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 50
	}
	if opts.Burst <= 0 {
		opts.Burst = 100
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /resolve", h.handleResolve)
	mux.HandleFunc("POST /update", h.handleUpdate)

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst)
	var handler http.Handler = mux
	handler = rateLimit(limiter, handler)
	handler = requestLog(logger, handler)
	handler = requestID(handler)

	return &Server{
		http: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down draining in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler exposes the composed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
