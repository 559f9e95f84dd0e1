package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level portal configuration file.
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreYAML       `yaml:"store"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Upload    UploadConfig    `yaml:"upload"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	CORSOrigins     []string `yaml:"cors_origins"`
}

// StoreYAML selects the credential and content database.
type StoreYAML struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	DataDir      string `yaml:"data_dir"`
	QueryTimeout string `yaml:"query_timeout"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// AuthConfig controls authentication settings.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	JWTExpiry    string `yaml:"jwt_expiry"`
	BcryptCost   int    `yaml:"bcrypt_cost"`
	MaxAttempts  int    `yaml:"max_attempts"`
	LockDuration string `yaml:"lock_duration"`
}

// RateLimitConfig bounds login attempts per client address.
type RateLimitConfig struct {
	LoginRequests int    `yaml:"login_requests"`
	LoginWindow   string `yaml:"login_window"`
	RedisURL      string `yaml:"redis_url"`
}

// UploadConfig configures the S3-compatible object store for attachments.
// Uploads are disabled when S3Bucket is empty.
type UploadConfig struct {
	S3Bucket       string `yaml:"s3_bucket"`
	S3Region       string `yaml:"s3_region"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3PublicURL    string `yaml:"s3_public_url"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
	MaxFileSize    string `yaml:"max_file_size"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			CORSOrigins:     []string{"http://localhost:3000"},
		},
		Store: StoreYAML{
			Driver:       DialectSQLite,
			QueryTimeout: "5s",
			MaxOpenConns: 25,
		},
		Auth: AuthConfig{
			JWTExpiry:    "168h",
			BcryptCost:   12,
			MaxAttempts:  5,
			LockDuration: "2h",
		},
		RateLimit: RateLimitConfig{
			LoginRequests: 5,
			LoginWindow:   "15m",
		},
		Upload: UploadConfig{
			S3Region:    "us-east-1",
			MaxFileSize: "10MiB",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	data, err := yaml.Marshal(DefaultYAMLConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
