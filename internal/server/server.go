// Package server exposes the content service over HTTP: a JSON read API for
// front ends, a health check and the GitHub webhook receiver.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"cms-go/internal/cms"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Config holds the collaborators the server routes to. Poller and State
// may be nil.
type Config struct {
	Address       string
	WebhookSecret string
	Service       *cms.Service
	Poller        *cms.Poller
	State         cms.StateStore
	Clock         cms.Clock
	Logger        cms.Logger
}

// Server hosts the HTTP surface and its lifecycle.
type Server struct {
	httpServer *http.Server
	webhook    *WebhookHandler
	logger     cms.Logger
}

// NewServer validates cfg and builds the routes.
func NewServer(cfg Config) (*Server, error) {
	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		return nil, errors.New("server address is required")
	}
	if cfg.Service == nil {
		return nil, errors.New("content service is required")
	}
	handler, webhook := NewHandler(cfg)
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		webhook: webhook,
		logger:  cfg.Logger,
	}, nil
}

// NewHandler builds the root handler. The webhook handler is returned so
// callers can wait for background refreshes.
func NewHandler(cfg Config) (http.Handler, *WebhookHandler) {
	mux := http.NewServeMux()
	NewAPI(cfg.Service, cfg.Logger).Register(mux)

	webhook := NewWebhookHandler(cfg.WebhookSecret, cfg.Service, cfg.Poller, cfg.State, cfg.Clock, cfg.Logger)
	mux.Handle("POST /webhooks/github", webhook)

	return chain(mux, recoverPanic(cfg.Logger), logRequests(cfg.Logger, cfg.Clock)), webhook
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// and waits for webhook refreshes in flight.
func (s *Server) ListenAndServe(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("http server listening", "address", s.httpServer.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.webhook.Wait()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		s.webhook.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

type middleware func(http.Handler) http.Handler

func chain(h http.Handler, mw ...middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

func recoverPanic(logger cms.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", "method", r.Method, "path", r.URL.Path,
						"panic", rec, "stack", string(debug.Stack()))
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(logger cms.Logger, clock cms.Clock) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := clock.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("http request", "method", r.Method, "path", r.URL.Path,
				"status", rec.status, "duration", clock.Now().Sub(start))
		})
	}
}
