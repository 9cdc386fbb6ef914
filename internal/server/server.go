// Package server exposes the patch history API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rpattn/patchhistory/internal/app"
	"github.com/rpattn/patchhistory/internal/config"
	"github.com/rpattn/patchhistory/internal/export"
	"github.com/rpattn/patchhistory/internal/middleware"
)

// NewHandler builds the root handler: the history API behind CORS, request
// logging and per-request patch loaders, plus /metrics and /healthz.
func NewHandler(cfg config.ServerConfig, catalog *app.Catalog, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	service := export.NewService(catalog)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})

	api := middleware.LoggingMiddleware(logger)(
		middleware.DataLoaderMiddleware(catalog, cfg.LoaderWait)(export.NewHTTPHandler(service)),
	)

	mux := http.NewServeMux()
	mux.Handle("/patches/", corsHandler.Handler(api))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"collections": catalog.Collections(),
		})
	})
	return mux
}

// Server wraps http.Server with graceful shutdown.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

func New(cfg config.ServerConfig, catalog *app.Catalog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewHandler(cfg, catalog, logger),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down within 30 seconds.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting patch history server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("server exited")
	return nil
}
