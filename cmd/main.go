package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flexaargo/loginlab/config"
	"github.com/flexaargo/loginlab/db"
	"github.com/flexaargo/loginlab/internal/auth/apple"
	"github.com/flexaargo/loginlab/internal/auth/handler"
	repo "github.com/flexaargo/loginlab/internal/auth/repository/postgres"
	"github.com/flexaargo/loginlab/internal/auth/service"
	"github.com/flexaargo/loginlab/internal/storage"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := config.Load()
	ctx := context.Background()

	if err := db.RunMigrations(cfg.DBURL); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	dbPool, err := db.NewPostgresPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	verifier, err := apple.NewVerifier(ctx, cfg.AppleClientID, "")
	if err != nil {
		slog.Error("provider key fetch failed", "error", err)
		os.Exit(1)
	}

	appleClient := apple.NewClient(apple.ClientConfig{
		ClientID:     cfg.AppleClientID,
		ClientSecret: cfg.AppleClientSecret,
		Timeout:      time.Duration(cfg.AppleTimeoutSeconds) * time.Second,
	})

	images, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Endpoint:        cfg.S3Endpoint,
		SignedURLExpiry: time.Duration(cfg.S3SignedURLExpirySec) * time.Second,
	})
	if err != nil {
		slog.Error("object store setup failed", "error", err)
		os.Exit(1)
	}

	cipher, err := service.NewTokenCipher(cfg.ProviderTokenKey)
	if err != nil {
		slog.Error("provider token cipher setup failed", "error", err)
		os.Exit(1)
	}

	userRepo := repo.NewPostgresRepository(dbPool)
	sessionRepo := repo.NewSessionRepository(dbPool)
	tokenService := service.NewTokenService(cfg.JWTSecret, cfg.RefreshTokenPepper, cfg.AccessExpiryMin, cfg.RefreshExpiryMin)
	authService := service.NewAuthService(userRepo, sessionRepo, tokenService, verifier, appleClient, images, cipher)
	authHandler := handler.NewAuthHandler(authService, tokenService)

	app := fiber.New()
	handler.RegisterRoutes(app, authHandler)
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	slog.Info("listening", "port", cfg.Port, "env", cfg.Env)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
