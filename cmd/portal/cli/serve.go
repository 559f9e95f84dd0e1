package cli

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soetuniversity/portal/internal/config"
	"github.com/soetuniversity/portal/internal/server"
	"github.com/soetuniversity/portal/internal/service"
	"github.com/soetuniversity/portal/internal/telemetry"
	"github.com/soetuniversity/portal/internal/upload"
)

const banner = `
 ____            _        _
|  _ \ ___  _ __| |_ __ _| |
| |_) / _ \| '__| __/ _' | |
|  __/ (_) | |  | || (_| | |
|_|   \___/|_|   \__\__,_|_|
`

// minJWTSecretLen is the shortest signing secret serve accepts.
const minJWTSecretLen = 32

func newServeCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
		Long:  "Start the HTTP server that exposes the authentication, administration and content APIs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(loadSettings(viper.GetViper()), dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging, ephemeral JWT secret when none is set)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

// resolveJWTSecret returns the configured signing secret. In dev mode a
// missing secret is replaced by a random one that dies with the process.
func resolveJWTSecret(configured string, dev bool, logger *slog.Logger) ([]byte, error) {
	if configured != "" {
		if len(configured) < minJWTSecretLen && !dev {
			return nil, fmt.Errorf("auth.jwt_secret must be at least %d characters", minJWTSecretLen)
		}
		return []byte(configured), nil
	}
	if !dev {
		return nil, errors.New("auth.jwt_secret is required (set PORTAL_AUTH_JWT_SECRET)")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate ephemeral secret: %w", err)
	}
	logger.Warn("no JWT secret configured; using an ephemeral secret, tokens will not survive a restart")
	return secret, nil
}

func runServe(cfg *config.YAMLConfig, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logger := newLogger(os.Stderr, cfg.Logging, dev)
	slog.SetDefault(logger)

	secret, err := resolveJWTSecret(cfg.Auth.JWTSecret, dev, logger)
	if err != nil {
		return err
	}

	tokenTTL, err := parseDuration("auth.jwt_expiry", cfg.Auth.JWTExpiry, service.DefaultTokenTTL)
	if err != nil {
		return err
	}
	lockFor, err := parseDuration("auth.lock_duration", cfg.Auth.LockDuration, service.DefaultLockDuration)
	if err != nil {
		return err
	}
	loginWindow, err := parseDuration("rate_limit.login_window", cfg.RateLimit.LoginWindow, 15*time.Minute)
	if err != nil {
		return err
	}
	shutdown, err := parseDuration("server.shutdown_timeout", cfg.Server.ShutdownTimeout, 30*time.Second)
	if err != nil {
		return err
	}

	// 1. Credential store
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	logger.Info("store initialized", "driver", store.Dialect())

	ctx := context.Background()
	hasSuper, err := store.HasSuperAdmin(ctx)
	if err != nil {
		logger.Warn("failed to check for super admin", "error", err)
	}
	if !hasSuper {
		logger.Warn("no super admin account found - run: portal admin bootstrap")
	}

	// 2. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	// 3. Auth service
	authSvc := service.NewAuthService(store, service.AuthConfig{
		JWTSecret:    secret,
		TokenTTL:     tokenTTL,
		MaxAttempts:  cfg.Auth.MaxAttempts,
		LockDuration: lockFor,
		Hasher:       store.Hasher(),
		Metrics:      metrics,
		Logger:       logger,
	})

	deps := server.Deps{Store: store, Auth: authSvc, Metrics: metrics}

	// 4. Optional Redis for the shared login limiter
	if cfg.RateLimit.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RateLimit.RedisURL)
		if err != nil {
			store.Close()
			return fmt.Errorf("parse rate_limit.redis_url: %w", err)
		}
		deps.Redis = redis.NewClient(opts)
		logger.Info("login rate limit backed by redis", "addr", opts.Addr)
	}

	// 5. Optional object store for attachments
	maxUpload, err := upload.ParseSize(cfg.Upload.MaxFileSize)
	if err != nil {
		store.Close()
		return fmt.Errorf("upload.max_file_size: %w", err)
	}
	if cfg.Upload.S3Bucket != "" {
		objects, err := upload.NewS3Store(ctx, upload.S3Config{
			Bucket:       cfg.Upload.S3Bucket,
			Region:       cfg.Upload.S3Region,
			Endpoint:     cfg.Upload.S3Endpoint,
			AccessKey:    cfg.Upload.S3AccessKey,
			SecretKey:    cfg.Upload.S3SecretKey,
			PublicURL:    cfg.Upload.S3PublicURL,
			UsePathStyle: cfg.Upload.S3UsePathStyle,
		})
		if err != nil {
			store.Close()
			return fmt.Errorf("init object store: %w", err)
		}
		deps.Objects = objects
		logger.Info("uploads enabled", "bucket", cfg.Upload.S3Bucket)
	}

	// 6. HTTP server
	origins := cfg.Server.CORSOrigins
	if dev {
		origins = []string{"*"}
	}
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: shutdown,
		CORSOrigins:     origins,
		MaxBodySize:     1 << 20,
		LoginRequests:   cfg.RateLimit.LoginRequests,
		LoginWindow:     loginWindow,
		MaxUploadSize:   maxUpload,
		BaseURL:         fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port),
		Version:         versionString(),
	}
	srv := server.New(srvCfg, deps, logger)

	fmt.Printf("→ Portal %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()

	return srv.ListenAndServe()
}
