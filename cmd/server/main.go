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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/ptt3199/homecam-api/internal/audit"
	"github.com/ptt3199/homecam-api/internal/auth"
	"github.com/ptt3199/homecam-api/internal/camera"
	"github.com/ptt3199/homecam-api/internal/config"
	"github.com/ptt3199/homecam-api/internal/identity"
	"github.com/ptt3199/homecam-api/internal/observability/logger"
	"github.com/ptt3199/homecam-api/internal/observability/metrics"
	"github.com/ptt3199/homecam-api/internal/observability/tracing"
	"github.com/ptt3199/homecam-api/internal/store/postgres"
	transportHTTP "github.com/ptt3199/homecam-api/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting homecam api")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
		meter = nil
	}

	// Audit logger, optionally backed by Postgres
	var auditLogger audit.Logger = audit.NewSlogLogger()
	if cfg.Audit.DBEnabled {
		db, err := postgres.New(ctx, postgres.Config{
			Host:         cfg.Audit.DBHost,
			Port:         cfg.Audit.DBPort,
			User:         cfg.Audit.DBUser,
			Password:     cfg.Audit.DBPassword,
			Database:     cfg.Audit.DBName,
			SSLMode:      cfg.Audit.DBSSLMode,
			MaxOpenConns: cfg.Audit.DBMaxOpenConns,
			MaxIdleConns: cfg.Audit.DBMaxIdleConns,
		})
		if err != nil {
			slog.Error("failed to connect to audit database", logger.Error(err))
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("connected to audit database")

		auditLogger = audit.NewStoreLogger(postgres.NewAuditRepository(db))
	}

	// Token verification chain
	keyCacheCfg := auth.KeyCacheConfig{
		TTL:          cfg.Auth.JWKSCacheTTL,
		MinRefresh:   cfg.Auth.JWKSMinRefresh,
		FetchTimeout: cfg.Auth.JWKSFetchTimeout,
	}
	if meter != nil {
		keyCacheCfg.OnFetch = func() {
			meter.KeySetFetches.Add(context.Background(), 1)
		}
	}
	keyCache := auth.NewKeyCache(keyCacheCfg)
	verifier := auth.NewVerifier(keyCache, auth.VerifierConfig{
		AllowedIssuers: cfg.Auth.AllowedIssuers,
		AllowedAlgs:    cfg.Auth.AllowedAlgs,
		Audience:       cfg.Auth.Audience,
		VerifyAudience: cfg.Auth.VerifyAudience,
		Leeway:         cfg.Auth.Leeway,
	})
	streamTokens := auth.NewStreamTokenService(cfg.StreamToken.Secret, cfg.StreamToken.Lifetime)

	// Admin fallback login
	adminService := identity.NewAdminService(
		cfg.Admin.Username,
		cfg.Admin.Email,
		cfg.Admin.PasswordHash,
		identity.NewPasswordHasher(),
	)
	if !adminService.Enabled() {
		slog.Info("admin fallback login disabled, no password hash configured")
	}

	// Camera
	cameraService := camera.NewService(
		camera.NewSyntheticSource(cfg.Camera.Width, cfg.Camera.Height),
		camera.Config{
			DeviceID: cfg.Camera.DeviceID,
			Width:    cfg.Camera.Width,
			Height:   cfg.Camera.Height,
			FPS:      cfg.Camera.FPS,
		},
	)
	defer cameraService.Stop()

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		verifier,
		streamTokens,
		adminService,
		cameraService,
		auditLogger,
		meter,
	)

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server. WriteTimeout stays zero by default so the
	// MJPEG feed can outlive any fixed deadline.
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Audit.DBHost,
		Port:         cfg.Audit.DBPort,
		User:         cfg.Audit.DBUser,
		Password:     cfg.Audit.DBPassword,
		Database:     cfg.Audit.DBName,
		SSLMode:      cfg.Audit.DBSSLMode,
		MaxOpenConns: cfg.Audit.DBMaxOpenConns,
		MaxIdleConns: cfg.Audit.DBMaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	slog.Info("migration applied")
	return nil
}
