package http

import (
	"context"
	"errors"
	"net/http"
	"time"
)

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg ServerConfig
	srv *http.Server
}

// NewServer не выставляет WriteTimeout: он оборвал бы долгоживущие websocket.
func NewServer(cfg ServerConfig, handler http.Handler) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		cfg: cfg,
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
	}
}

// Run запускает HTTP-сервер и блокирует до завершения ctx.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(shCtx)
	case err := <-errCh:
		return err
	}
}
