// Package server exposes DreamForge over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/dreamforge/internal/auth"
	"github.com/nerdneilsfield/dreamforge/internal/config"
	"github.com/nerdneilsfield/dreamforge/internal/generation"
	"github.com/nerdneilsfield/dreamforge/internal/i18n"
	"github.com/nerdneilsfield/dreamforge/internal/imagestore"
	"github.com/nerdneilsfield/dreamforge/internal/inference"
	"github.com/nerdneilsfield/dreamforge/internal/metrics"
	"github.com/nerdneilsfield/dreamforge/internal/payments"
	"github.com/nerdneilsfield/dreamforge/internal/storage"
)

// Deps holds everything the handlers need.
type Deps struct {
	Config      *config.Config
	Users       *storage.UserStore
	Ledger      *storage.GormLedger
	Gallery     *storage.Gallery
	Catalog     *storage.Catalog
	Coordinator *generation.Coordinator
	Payments    *payments.Service
	Sessions    *auth.SessionManager
	Authorizer  *auth.Authorizer
	I18n        *i18n.Manager
	Gateway     inference.Gateway
	// ImagesDir is served under /images/ when images are stored locally.
	ImagesDir string
	Logger    *zap.Logger
	Version   string
	BuildDate string
}

type Server struct {
	deps    Deps
	inner   *http.Server
	limiter *RateLimiter
	started time.Time
	handler http.Handler
}

func New(deps Deps) *Server {
	s := &Server{
		deps:    deps,
		limiter: NewRateLimiter(deps.Config.Server.GenerateRate, deps.Config.Server.GenerateBurst),
		started: time.Now(),
	}
	s.handler = CORS(deps.Config.Server.CORSOrigins, s.routes())
	s.inner = &http.Server{
		Addr:         deps.Config.Server.Address,
		Handler:      s.handler,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
	}
	return s
}

// Handler returns the full handler chain, including CORS.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(metrics.InstrumentHandler, s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	api.Handle("/user", s.authed(s.handleUser)).Methods(http.MethodGet)
	api.Handle("/user/language", s.authed(s.handleLanguage)).Methods(http.MethodPut)

	api.HandleFunc("/models", s.handleModels).Methods(http.MethodGet)
	api.HandleFunc("/styles", s.handleStyles).Methods(http.MethodGet)

	api.Handle("/images/generate", s.authed(s.limited(s.handleGenerate))).Methods(http.MethodPost)
	api.Handle("/images/personal", s.authed(s.handlePersonal)).Methods(http.MethodGet)
	api.Handle("/images/recent", s.authed(s.handleRecent)).Methods(http.MethodGet)
	api.HandleFunc("/images/public", s.handlePublic).Methods(http.MethodGet)
	api.Handle("/images/{id:[0-9]+}/visibility", s.authed(s.handleVisibility)).Methods(http.MethodPatch)

	api.Handle("/credits/history", s.authed(s.handleHistory)).Methods(http.MethodGet)

	api.HandleFunc("/payments/packages", s.handlePackages).Methods(http.MethodGet)
	api.Handle("/payments/create-order", s.authed(s.handleCreateOrder)).Methods(http.MethodPost)
	api.Handle("/payments/capture-order", s.authed(s.handleCaptureOrder)).Methods(http.MethodPost)
	api.Handle("/payments/purchases", s.authed(s.handlePurchases)).Methods(http.MethodGet)

	api.Handle("/admin/credits", s.admin(s.handleGrant)).Methods(http.MethodPost)
	api.Handle("/admin/upstream-balance", s.admin(s.handleUpstreamBalance)).Methods(http.MethodGet)

	if s.deps.ImagesDir != "" {
		r.PathPrefix(imagestore.LocalRoute).Handler(
			http.StripPrefix(imagestore.LocalRoute, http.FileServer(http.Dir(s.deps.ImagesDir)))).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Error(w, r, newAPIError(http.StatusNotFound, "ErrNotFound"))
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go s.limiter.runCleanup(cleanupCtx, 10*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("HTTP server listening", zap.String("address", s.inner.Addr))
		if err := s.inner.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen on %s: %w", s.inner.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Logger.Info("Shutting down HTTP server")
	if err := s.inner.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
