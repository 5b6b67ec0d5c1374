package internal

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"asset-census-api/internal/auth"
	"asset-census-api/internal/config"
	"asset-census-api/internal/handlers"
	"asset-census-api/internal/photos"
	"asset-census-api/internal/store"
	"asset-census-api/pkg/assignment"
	"asset-census-api/pkg/completion"
	"asset-census-api/pkg/inventory"
	"asset-census-api/pkg/reconcile"
)

type Server struct {
	Router     *chi.Mux
	Store      store.Store
	Photos     *photos.FS
	JWTManager *auth.JWTManager
	Metrics    *Metrics
	Logger     *zap.Logger
	Imports    *handlers.ImportsHandler

	cfg        *config.Config
	tracker    *completion.Tracker
	assigner   *assignment.Engine
	reconciler *reconcile.Engine

	// mu serializes mutations. session is never modified in place: writers
	// build a clone, commit its delta and swap it in, so readers may use the
	// pointer returned by snapshot without holding mu.
	mu      sync.Mutex
	session *inventory.Session
}

// NewServer loads the session from st, re-derives completion state and
// builds the router.
func NewServer(ctx context.Context, cfg *config.Config, st store.Store, ph *photos.FS, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTExpiry)
	if err := jwtManager.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("jwt configuration: %w", err)
	}

	tracker := completion.NewTracker(logger.Named("completion"))
	s := &Server{
		Store:      st,
		Photos:     ph,
		JWTManager: jwtManager,
		Metrics:    NewMetrics(),
		Logger:     logger,
		cfg:        cfg,
		tracker:    tracker,
		assigner:   assignment.NewEngine(tracker, logger.Named("assignment")),
		reconciler: reconcile.NewEngine(reconcile.Options{
			Workers:       cfg.DiffWorkers,
			ChunkSize:     cfg.DiffChunkSize,
			ScopeRemovals: cfg.ScopeRemovals,
		}, tracker, logger.Named("reconcile")),
	}

	sess, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Counter == nil {
		sess.Counter = make(inventory.LocationCounter)
	}
	s.session = sess

	// Stored area states are derived data; rows edited outside the API can
	// leave them behind the assets.
	if err := s.mutate(ctx, func(next *inventory.Session) error {
		s.tracker.EvaluateAll(next)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("evaluate completion: %w", err)
	}
	s.Metrics.ObserveSession(s.session)
	logger.Info("session loaded",
		zap.Int("assets", len(sess.Assets)),
		zap.Int("users", len(sess.Users)),
		zap.Int("areas", len(sess.Areas)))

	s.Imports = handlers.NewImportsHandler(s, logger.Named("imports"))
	s.Imports.MaxBytes = cfg.UploadMaxBytes
	s.Imports.MappingPath = cfg.MappingPath
	if cfg.ChangeSetTTL > 0 {
		s.Imports.TTL = cfg.ChangeSetTTL
	}

	s.Router = s.routes()
	return s, nil
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.Logger))
	r.Use(middleware.Recoverer)
	if s.cfg.EnableMetrics {
		r.Use(s.Metrics.Middleware())
		r.Get("/metrics", s.Metrics.Handler().ServeHTTP)
	}

	// Public routes
	r.Get("/health", s.health)
	r.Post("/auth/login", s.loginOperator)

	r.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(s.JWTManager))
		s.mountProtectedRoutes(r)
	})
	return r
}

// mountProtectedRoutes mounts all routes that require authentication. Any
// operator may read and locate; coordinators change the inventory itself.
func (s *Server) mountProtectedRoutes(r chi.Router) {
	coordinator := auth.MustRole(auth.RoleCoordinator)

	r.Get("/auth/profile", s.getProfile)

	r.Get("/assets", s.listAssets)
	r.Get("/assets/{key}", s.getAsset)
	r.With(coordinator).Delete("/assets/{key}", s.deleteAsset)
	r.Post("/assets/{key}/locate", s.locateAsset)
	r.Post("/assets/{key}/unlocate", s.unlocateAsset)
	r.Put("/assets/{key}/label", s.setLabel)
	r.Put("/assets/{key}/notes", s.setNotes)
	r.Post("/assets/{key}/photo", s.uploadPhoto)
	r.Get("/assets/{key}/photo", s.getPhoto)

	r.Get("/users", s.listUsers)
	r.Get("/users/{name}", s.getUser)
	r.With(coordinator).Post("/users", s.createUser)
	r.With(coordinator).Put("/users/{name}", s.updateUser)
	r.With(coordinator).Delete("/users/{name}", s.deleteUser)

	r.Get("/areas", s.listAreas)
	r.With(coordinator).Post("/areas/{id}/close", s.closeArea)
	r.Get("/progress", s.getProgress)

	r.Get("/locations", s.listLocations)
	r.Get("/locations/next", s.nextLocation)
	r.With(coordinator).Post("/locations/recompute", s.recomputeLocations)

	r.Post("/imports/excel", s.Imports.UploadExcel)
	r.Get("/imports/{id}", s.Imports.GetImport)
	r.With(coordinator).Post("/imports/{id}/apply", s.Imports.ApplyImport)
	r.With(coordinator).Delete("/imports/{id}", s.Imports.DiscardImport)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		s.Logger.Warn("health check failed", zap.Error(err))
		auth.SendErrorResponse(w, "store unavailable", "STORE_UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}
	if _, err := w.Write([]byte("ok")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// snapshot returns the current session. Callers must not modify it.
func (s *Server) snapshot() *inventory.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// mutate runs fn against a clone of the session, commits the difference and
// swaps the clone in. If fn or the commit fails the live session is
// unchanged.
func (s *Server) mutate(ctx context.Context, fn func(next *inventory.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.session.Clone()
	if err := fn(next); err != nil {
		return err
	}
	m := store.Delta(s.session, next)
	if m.Empty() {
		return nil
	}
	if err := s.Store.Commit(ctx, m); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.session = next
	s.Metrics.ObserveSession(next)
	return nil
}

// Diff compares an imported snapshot with the live assets.
func (s *Server) Diff(ctx context.Context, records []inventory.RawRecord) (*reconcile.ChangeSet, error) {
	start := time.Now()
	cs, err := s.reconciler.Diff(ctx, s.snapshot().Assets, records)
	if err != nil {
		return nil, err
	}
	s.Metrics.ObserveDiff(time.Since(start))
	return cs, nil
}

// Apply writes the selected entries of cs and removes the photos of deleted
// assets once the new state is stored.
func (s *Server) Apply(ctx context.Context, cs *reconcile.ChangeSet) (reconcile.ApplyResult, error) {
	var res reconcile.ApplyResult
	err := s.mutate(ctx, func(next *inventory.Session) error {
		var err error
		res, err = s.reconciler.Apply(next, cs)
		return err
	})
	if err != nil {
		return res, err
	}
	s.Metrics.CountApply(res)
	s.deletePhotos(res.Photos...)
	return res, nil
}

func (s *Server) deletePhotos(refs ...string) {
	if s.Photos == nil {
		return
	}
	for _, ref := range refs {
		if err := s.Photos.Delete(ref); err != nil {
			s.Logger.Warn("photo delete failed", zap.String("ref", ref), zap.Error(err))
		}
	}
}

// Close releases the store.
func (s *Server) Close(ctx context.Context) error {
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}
