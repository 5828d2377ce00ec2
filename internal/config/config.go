// Copyright 2026 The Homecam API Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	StreamToken   StreamTokenConfig
	Admin         AdminConfig
	Camera        CameraConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// AuthConfig holds primary-token verification configuration
type AuthConfig struct {
	// AllowedIssuers restricts which identity providers are accepted.
	// Empty means any issuer whose key set resolves is accepted.
	AllowedIssuers []string
	// AllowedAlgs is the signature algorithm allow-list for primary tokens.
	AllowedAlgs []string
	// Audience and VerifyAudience control the optional aud claim check.
	// Off by default: not all providers populate aud consistently.
	Audience       string
	VerifyAudience bool
	Leeway         time.Duration
	// JWKS cache behavior
	JWKSCacheTTL     time.Duration
	JWKSMinRefresh   time.Duration
	JWKSFetchTimeout time.Duration
}

// StreamTokenConfig holds streaming-token configuration
type StreamTokenConfig struct {
	// Secret signs streaming tokens. Rotating it invalidates every
	// outstanding streaming token.
	Secret   string
	Lifetime time.Duration
}

// AdminConfig holds the fallback admin login account
type AdminConfig struct {
	Username     string
	Email        string
	PasswordHash string // argon2id encoded; empty disables the login endpoint
}

// CameraConfig holds camera capture configuration
type CameraConfig struct {
	DeviceID int
	Width    int
	Height   int
	FPS      int
}

// AuditConfig holds audit persistence configuration
type AuditConfig struct {
	DBEnabled      bool
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	DBMaxOpenConns int
	DBMaxIdleConns int
	Retention      time.Duration
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        getEnv("SERVER_PORT", "8080"),
			ReadTimeout: parseDuration("SERVER_READ_TIMEOUT", "15s"),
			// Write timeout stays 0: the MJPEG feed is a long-lived response.
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "0"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Auth: AuthConfig{
			AllowedIssuers:   parseList("AUTH_ALLOWED_ISSUERS"),
			AllowedAlgs:      parseListDefault("AUTH_ALLOWED_ALGS", []string{"RS256"}),
			Audience:         getEnv("AUTH_AUDIENCE", ""),
			VerifyAudience:   parseBool("AUTH_VERIFY_AUDIENCE", false),
			Leeway:           parseDuration("AUTH_LEEWAY", "60s"),
			JWKSCacheTTL:     parseDuration("AUTH_JWKS_CACHE_TTL", "1h"),
			JWKSMinRefresh:   parseDuration("AUTH_JWKS_MIN_REFRESH", "30s"),
			JWKSFetchTimeout: parseDuration("AUTH_JWKS_FETCH_TIMEOUT", "5s"),
		},
		StreamToken: StreamTokenConfig{
			Secret:   getEnv("STREAM_TOKEN_SECRET", ""),
			Lifetime: parseDuration("STREAM_TOKEN_LIFETIME", "5m"),
		},
		Admin: AdminConfig{
			Username:     getEnv("ADMIN_USERNAME", "admin"),
			Email:        getEnv("ADMIN_EMAIL", "admin@ptt-home.local"),
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Camera: CameraConfig{
			DeviceID: parseInt("CAMERA_DEVICE_ID", 0),
			Width:    parseInt("CAMERA_WIDTH", 1280),
			Height:   parseInt("CAMERA_HEIGHT", 720),
			FPS:      parseInt("CAMERA_FPS", 10),
		},
		Audit: AuditConfig{
			DBEnabled:      parseBool("AUDIT_DB_ENABLED", false),
			DBHost:         getEnv("DB_HOST", "localhost"),
			DBPort:         getEnv("DB_PORT", "5432"),
			DBUser:         getEnv("DB_USER", "homecam"),
			DBPassword:     getEnv("DB_PASSWORD", ""),
			DBName:         getEnv("DB_NAME", "homecam"),
			DBSSLMode:      getEnv("DB_SSLMODE", "disable"),
			DBMaxOpenConns: parseInt("DB_MAX_OPEN_CONNS", 10),
			DBMaxIdleConns: parseInt("DB_MAX_IDLE_CONNS", 2),
			Retention:      parseDuration("AUDIT_RETENTION", "720h"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "homecam-api"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("RATELIMIT_RPS", 10)),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.StreamToken.Secret == "" {
		return fmt.Errorf("STREAM_TOKEN_SECRET is required")
	}
	if c.StreamToken.Lifetime <= 0 {
		return fmt.Errorf("STREAM_TOKEN_LIFETIME must be positive")
	}
	if len(c.Auth.AllowedAlgs) == 0 {
		return fmt.Errorf("AUTH_ALLOWED_ALGS must not be empty")
	}
	if c.Auth.VerifyAudience && c.Auth.Audience == "" {
		return fmt.Errorf("AUTH_AUDIENCE is required when AUTH_VERIFY_AUDIENCE is set")
	}
	if c.Audit.DBEnabled && c.Audit.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required when AUDIT_DB_ENABLED is set")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}

func parseList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseListDefault(key string, defaultValue []string) []string {
	if out := parseList(key); out != nil {
		return out
	}
	return defaultValue
}
