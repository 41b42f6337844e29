// Package apiserver is a reference implementation of the remote API the sync
// engine talks to. It keeps data in memory, scoped by the token's owner.
package apiserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kimhsiao/cutlog/internal/logging"
	"github.com/kimhsiao/cutlog/internal/remote"
)

// Options configures the router.
type Options struct {
	JWTSecret   string
	CORSOrigins []string
	// BatchLimit caps ids per batch request; defaults to remote.MaxBatchSize.
	BatchLimit int
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options, store *Store, jwtSvc *JWT) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	limit := opts.BatchLimit
	if limit <= 0 {
		limit = remote.MaxBatchSize
	}
	h := &Handler{Store: store, BatchLimit: limit}

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireAuth(jwtSvc))

		r.Get("/profiles", h.ListProfiles)
		r.Post("/profiles", h.CreateProfile)
		r.Post("/profiles/batch", h.BatchGetProfiles)
		r.Put("/profiles/{id}", h.UpdateProfile)
		r.Delete("/profiles/{id}", h.DeleteProfile)

		r.Get("/profiles/{id}/records", h.ListRecords)
		r.Post("/profiles/{id}/records", h.CreateRecord)
		r.Put("/profiles/{id}/records/{recordID}", h.UpdateRecord)
		r.Delete("/profiles/{id}/records/{recordID}", h.DeleteRecord)

		r.Get("/sync/manifest", h.Manifest)
	})

	return r
}

// Server runs the reference API over HTTP.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("API server listening", map[string]interface{}{"addr": s.httpServer.Addr})
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logging.Info("API server stopped")
	return nil
}
