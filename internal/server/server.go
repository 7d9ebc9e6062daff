// Package server exposes the schema context service over HTTP.
//
// Handlers are thin: decode, delegate to the catalog/cache/builder, encode.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/datalumen/schemactx/internal/builder"
	"github.com/datalumen/schemactx/internal/cache"
	"github.com/datalumen/schemactx/internal/catalog"
	"github.com/datalumen/schemactx/internal/errs"
	"github.com/datalumen/schemactx/internal/logger"
	"github.com/datalumen/schemactx/internal/schema"
)

// Server wires the HTTP routes to the schema context components.
type Server struct {
	builder *builder.Builder
	catalog *catalog.Catalog
	cache   *cache.Cache
	log     *logger.Logger
}

// New creates a Server.
func New(b *builder.Builder, cat *catalog.Catalog, c *cache.Cache, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{builder: b, catalog: cat, cache: c, log: log}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/context", s.handleBuildContext)
		r.Get("/catalog", s.handleCatalog)
		r.Post("/catalog/refresh", s.handleCatalogRefresh)
		r.Post("/cache/invalidate", s.handleInvalidate)
	})
	return r
}

type contextRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleBuildContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err))
		return
	}

	sc, err := s.builder.BuildContext(r.Context(), req.Query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sc)
}

type catalogEntry struct {
	Name        string `json:"name"`
	Owner       string `json:"owner"`
	Kind        string `json:"kind"`
	Tier        string `json:"tier"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	names := s.catalog.Names()
	entries := make([]catalogEntry, 0, len(names))
	for _, name := range names {
		desc, ok := s.catalog.Descriptor(name)
		if !ok {
			continue
		}
		entries = append(entries, catalogEntry{
			Name:        desc.Name,
			Owner:       desc.Owner,
			Kind:        string(desc.Kind),
			Tier:        desc.Tier.String(),
			Description: desc.Description,
		})
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCatalogRefresh(w http.ResponseWriter, r *http.Request) {
	before := s.catalog.Version()
	if err := s.catalog.Refresh(r.Context()); err != nil {
		// The previous snapshot is still serving; report without replacing.
		s.writeError(w, err)
		return
	}
	if s.catalog.Version() != before {
		s.log.With().Str("version", s.catalog.Version()).Logger().
			Info("schema version changed, invalidating cached detail")
		s.cache.InvalidateAll()
	}
	s.cache.SyncPins()
	s.cache.WarmCore(r.Context(), s.catalog.NamesByTier(schema.TierCore))
	w.WriteHeader(http.StatusNoContent)
}

type invalidateRequest struct {
	Table string `json:"table"` // empty invalidates everything
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err))
		return
	}
	if req.Table == "" {
		s.cache.InvalidateAll()
	} else {
		if !s.catalog.Exists(req.Table) {
			s.writeError(w, errs.Newf(errs.ErrKindUnknownTable, "table %s is not in the catalog", req.Table))
			return
		}
		s.cache.Invalidate(req.Table)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"tables": s.catalog.Size(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.With().Err(err).Logger().Error("failed to encode response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "unknown"

	var e *errs.Error
	if errors.As(err, &e) {
		kind = e.Kind.String()
		switch {
		case errs.IsInvalidInput(err), errs.IsUnknownTable(err):
			status = http.StatusBadRequest
		case errs.IsTimeout(err):
			status = http.StatusGatewayTimeout
		case errs.IsCatalogUnavailable(err), errs.IsConnectionFailed(err):
			status = http.StatusBadGateway
		}
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.With().Str("listen", listen).Logger().Info("http server started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
