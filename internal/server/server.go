// Package server exposes the knowledge engine over HTTP: a blocking chat
// endpoint, a line-delimited streaming endpoint, and operational probes.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/1475505/Miliastra-toolbox/internal/quota"
	"github.com/1475505/Miliastra-toolbox/internal/session"
)

// IndexStatus is the slice of the store the status probe needs.
type IndexStatus interface {
	Health(ctx context.Context) error
	Count(ctx context.Context) (uint64, error)
}

// Server routes HTTP traffic to the session engine.
type Server struct {
	engine     *session.Session
	ledger     *quota.Ledger
	index      IndexStatus
	collection string
	logger     *slog.Logger
	router     chi.Router
}

// New builds the router. All dependencies are injected; the server holds
// no lazily-built state.
func New(engine *session.Session, ledger *quota.Ledger, index IndexStatus, collection string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:     engine,
		ledger:     ledger,
		index:      index,
		collection: collection,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Route("/api/v1/rag", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/chat/stream", s.handleChatStream)
		r.Get("/status", s.handleStatus)
		r.Get("/quota/{channel}", s.handleQuota)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Mount attaches an extra handler subtree, such as the MCP transport.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.router.Mount(pattern, h)
}

// ListenAndServe runs the server until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.logger.Info("http server listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
