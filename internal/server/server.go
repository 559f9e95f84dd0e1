package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"

	"github.com/soetuniversity/portal/internal/config"
	"github.com/soetuniversity/portal/internal/handler"
	"github.com/soetuniversity/portal/internal/model"
	"github.com/soetuniversity/portal/internal/server/middleware"
	"github.com/soetuniversity/portal/internal/service"
	"github.com/soetuniversity/portal/internal/telemetry"
	"github.com/soetuniversity/portal/internal/upload"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes, JSON routes only
	LoginRequests   int
	LoginWindow     time.Duration
	MaxUploadSize   int64
	BaseURL         string // advertised in the OpenAPI document
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"http://localhost:3000"},
		MaxBodySize:     1 << 20,
		LoginRequests:   5,
		LoginWindow:     15 * time.Minute,
		MaxUploadSize:   upload.DefaultMaxFileSize,
	}
}

// Deps are the collaborators the server routes to. Objects and Redis are
// optional: a nil Objects leaves the upload routes unmounted and a nil Redis
// rate limits logins in process.
type Deps struct {
	Store   *config.Store
	Auth    *service.AuthService
	Metrics *telemetry.Metrics
	Objects upload.ObjectStore
	Redis   *redis.Client
}

// Server is the top-level HTTP server for the portal backend.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewMetrics(nil)
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	auth := s.deps.Auth

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(s.deps.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Operational endpoints (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", s.deps.Metrics.Handler())
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.BaseURL, s.cfg.Version, s.deps.Objects != nil).ServeSpec)

	authenticated := middleware.Authenticated(auth, s.logger)
	superAdmin := middleware.RequireRole(auth, s.logger, model.RoleSuperAdmin)
	manageUsers := middleware.RequirePermission(auth, model.PermManageUsers, s.logger)
	manageContent := middleware.RequirePermission(auth, model.PermManageContent, s.logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limitBody)

			r.Route("/auth", func(r chi.Router) {
				authH := handler.NewAuthHandler(auth, s.logger)

				r.With(s.loginLimiter()).Post("/login", authH.Login)
				r.With(superAdmin).Post("/register", authH.Register)

				r.Group(func(r chi.Router) {
					r.Use(authenticated)
					r.Get("/me", authH.Me)
					r.Put("/profile", authH.UpdateProfile)
					r.Post("/change-password", authH.ChangePassword)
					r.Post("/logout", authH.Logout)
				})
			})

			r.Route("/admins", func(r chi.Router) {
				adminH := handler.NewAdminHandler(s.deps.Store, auth, s.logger)

				r.Group(func(r chi.Router) {
					r.Use(manageUsers)
					r.Get("/", adminH.ListAdmins)
					r.Get("/{adminId}", adminH.GetAdmin)
					r.Put("/{adminId}/permissions", adminH.SetPermissions)
					r.Post("/{adminId}/unlock", adminH.Unlock)
				})
				r.Group(func(r chi.Router) {
					r.Use(superAdmin)
					r.Post("/{adminId}/deactivate", adminH.Deactivate)
					r.Post("/{adminId}/activate", adminH.Activate)
					r.Put("/{adminId}/role", adminH.SetRole)
				})
			})

			r.Route("/announcements", func(r chi.Router) {
				annH := handler.NewAnnouncementHandler(s.deps.Store, s.logger)

				r.Group(func(r chi.Router) {
					r.Use(middleware.OptionalAuth(auth))
					r.Get("/", annH.ListAnnouncements)
					r.Get("/{id}", annH.GetAnnouncement)
				})
				r.Group(func(r chi.Router) {
					r.Use(manageContent)
					r.Post("/", annH.CreateAnnouncement)
					r.Put("/{id}", annH.UpdateAnnouncement)
					r.Delete("/{id}", annH.DeleteAnnouncement)
				})
			})
		})

		// Uploads carry their own size limit.
		if s.deps.Objects != nil {
			r.Route("/uploads", func(r chi.Router) {
				uploadH := handler.NewUploadHandler(s.deps.Objects, s.cfg.MaxUploadSize, s.logger)
				r.Use(manageContent)
				r.Post("/", uploadH.Upload)
				r.Delete("/*", uploadH.Delete)
			})
		}
	})

	s.router = r
}

// loginLimiter bounds login attempts per client address, in Redis when a
// client is configured so that every replica shares one window.
func (s *Server) loginLimiter() func(http.Handler) http.Handler {
	requests, window := s.cfg.LoginRequests, s.cfg.LoginWindow
	if requests <= 0 {
		requests = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	if s.deps.Redis != nil {
		limiter := middleware.NewRedisRateLimiter(s.deps.Redis, requests, window, "")
		return limiter.Middleware(s.deps.Metrics, s.logger)
	}
	return middleware.LoginRateLimit(requests, window, s.deps.Metrics)
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	if s.cfg.MaxBodySize <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
		next.ServeHTTP(w, r)
	})
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store (and Redis,
// if configured) answer, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "check", "store", "error", err)
		checks["store"] = "unavailable"
		status = "degraded"
	} else {
		checks["store"] = "ok"
	}
	if s.deps.Redis != nil {
		if err := s.deps.Redis.Ping(ctx).Err(); err != nil {
			s.logger.Warn("readiness check failed", "check", "redis", "error", err)
			checks["redis"] = "unavailable"
			status = "degraded"
		} else {
			checks["redis"] = "ok"
		}
	}

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if s.deps.Redis != nil {
		s.deps.Redis.Close()
	}
	if err := s.deps.Store.Close(); err != nil {
		s.logger.Warn("store close failed", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
