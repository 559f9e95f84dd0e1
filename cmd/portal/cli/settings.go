package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/soetuniversity/portal/internal/config"
	"github.com/soetuniversity/portal/internal/password"
)

// setDefaults registers every configuration key with its default so that
// environment variables are honored for keys absent from the file.
func setDefaults(v *viper.Viper) {
	d := config.DefaultYAMLConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.data_dir", d.Store.DataDir)
	v.SetDefault("store.query_timeout", d.Store.QueryTimeout)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)

	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.jwt_expiry", d.Auth.JWTExpiry)
	v.SetDefault("auth.bcrypt_cost", d.Auth.BcryptCost)
	v.SetDefault("auth.max_attempts", d.Auth.MaxAttempts)
	v.SetDefault("auth.lock_duration", d.Auth.LockDuration)

	v.SetDefault("rate_limit.login_requests", d.RateLimit.LoginRequests)
	v.SetDefault("rate_limit.login_window", d.RateLimit.LoginWindow)
	v.SetDefault("rate_limit.redis_url", d.RateLimit.RedisURL)

	v.SetDefault("upload.s3_bucket", d.Upload.S3Bucket)
	v.SetDefault("upload.s3_region", d.Upload.S3Region)
	v.SetDefault("upload.s3_endpoint", d.Upload.S3Endpoint)
	v.SetDefault("upload.s3_access_key", d.Upload.S3AccessKey)
	v.SetDefault("upload.s3_secret_key", d.Upload.S3SecretKey)
	v.SetDefault("upload.s3_public_url", d.Upload.S3PublicURL)
	v.SetDefault("upload.s3_use_path_style", d.Upload.S3UsePathStyle)
	v.SetDefault("upload.max_file_size", d.Upload.MaxFileSize)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// loadSettings reads the effective configuration out of v.
func loadSettings(v *viper.Viper) *config.YAMLConfig {
	return &config.YAMLConfig{
		Server: config.ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ShutdownTimeout: v.GetString("server.shutdown_timeout"),
			CORSOrigins:     v.GetStringSlice("server.cors_origins"),
		},
		Store: config.StoreYAML{
			Driver:       v.GetString("store.driver"),
			DSN:          v.GetString("store.dsn"),
			DataDir:      v.GetString("store.data_dir"),
			QueryTimeout: v.GetString("store.query_timeout"),
			MaxOpenConns: v.GetInt("store.max_open_conns"),
		},
		Auth: config.AuthConfig{
			JWTSecret:    v.GetString("auth.jwt_secret"),
			JWTExpiry:    v.GetString("auth.jwt_expiry"),
			BcryptCost:   v.GetInt("auth.bcrypt_cost"),
			MaxAttempts:  v.GetInt("auth.max_attempts"),
			LockDuration: v.GetString("auth.lock_duration"),
		},
		RateLimit: config.RateLimitConfig{
			LoginRequests: v.GetInt("rate_limit.login_requests"),
			LoginWindow:   v.GetString("rate_limit.login_window"),
			RedisURL:      v.GetString("rate_limit.redis_url"),
		},
		Upload: config.UploadConfig{
			S3Bucket:       v.GetString("upload.s3_bucket"),
			S3Region:       v.GetString("upload.s3_region"),
			S3Endpoint:     v.GetString("upload.s3_endpoint"),
			S3AccessKey:    v.GetString("upload.s3_access_key"),
			S3SecretKey:    v.GetString("upload.s3_secret_key"),
			S3PublicURL:    v.GetString("upload.s3_public_url"),
			S3UsePathStyle: v.GetBool("upload.s3_use_path_style"),
			MaxFileSize:    v.GetString("upload.max_file_size"),
		},
		Logging: config.LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}
}

// parseDuration parses a configured duration, falling back to def when the
// value is empty.
func parseDuration(key, value string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// resolveDataDir returns the data directory from --data-dir, the
// store.data_dir setting, or ~/.portal as fallback.
func resolveDataDir(cfg *config.YAMLConfig) string {
	if dataDir != "" {
		return dataDir
	}
	if cfg.Store.DataDir != "" {
		return cfg.Store.DataDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".portal")
}

// openStore opens the configured credential store.
func openStore(cfg *config.YAMLConfig) (*config.Store, error) {
	timeout, err := parseDuration("store.query_timeout", cfg.Store.QueryTimeout, config.DefaultQueryTimeout)
	if err != nil {
		return nil, err
	}
	sc := config.StoreConfig{
		Driver:       cfg.Store.Driver,
		DSN:          cfg.Store.DSN,
		QueryTimeout: timeout,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		Hasher:       password.New(cfg.Auth.BcryptCost),
	}
	if sc.Driver == "" || sc.Driver == config.DialectSQLite {
		sc.DataDir = resolveDataDir(cfg)
	}
	return config.Open(sc)
}

// newLogger builds the process logger from the logging settings. dev forces
// debug level.
func newLogger(w io.Writer, cfg config.LoggingConfig, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
