package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/carmarket/api/internal/auth"
	"github.com/carmarket/api/internal/config"
	"github.com/carmarket/api/internal/database"
	apihandlers "github.com/carmarket/api/internal/handlers/api"
	"github.com/carmarket/api/internal/middleware"
	"github.com/carmarket/api/internal/services/car"
	"github.com/carmarket/api/internal/services/images"
	"github.com/carmarket/api/internal/services/part"
	"github.com/carmarket/api/internal/services/photos"
	"github.com/carmarket/api/internal/storage"
)

func main() {
	dev := flag.Bool("dev", false, "Use development defaults for missing settings")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", slog.String("error", err.Error()))
	}

	var cfg *config.Config
	if *dev {
		cfg = config.LoadDev()
	} else {
		var err error
		if cfg, err = config.Load(); err != nil {
			slog.Error("invalid configuration", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("server stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Database
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("migrations complete")

	// Storage
	store, closeStore, err := storage.Open(ctx, cfg.StorageOptions(), logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer closeStore()

	// Services
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry)
	authSvc := auth.NewService(pool, jwtMgr, cfg.TOTPIssuer, logger)
	reaper := photos.NewReaper(store, logger)
	carSvc := car.NewService(pool, reaper, logger)
	partSvc := part.NewService(pool, reaper, logger)
	imageSvc := images.NewService(store, images.Config{
		MaxBytes:     cfg.Upload.MaxBytes,
		SignedURLTTL: cfg.Upload.SignedURLTTL,
	}, logger)

	// Middleware
	requireAdmin := middleware.RequireAdmin(jwtMgr)
	authLimiter := middleware.AuthRateLimiter()
	defer authLimiter.Stop()
	apiLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer apiLimiter.Stop()

	// Routes
	mux := http.NewServeMux()
	apihandlers.NewHealthHandler(pool, logger).RegisterRoutes(mux)
	apihandlers.NewAuthHandler(authSvc, logger).RegisterRoutes(mux, apihandlers.Guards{
		Admin:    requireAdmin,
		Optional: middleware.OptionalAdmin(jwtMgr),
		Throttle: authLimiter.Handler,
	})
	apihandlers.NewAdminHandler(authSvc, logger).RegisterRoutes(mux, requireAdmin)
	apihandlers.NewCarHandler(carSvc, logger).RegisterRoutes(mux, requireAdmin)
	apihandlers.NewPartHandler(partSvc, logger).RegisterRoutes(mux, requireAdmin)
	apihandlers.NewImageHandler(imageSvc, cfg.Upload.MaxBytes, logger).RegisterRoutes(mux, requireAdmin)

	// Uploaded files, when stored on local disk
	if cfg.MediaStorage == storage.DriverLocal {
		mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaPath))))
	}

	handler := middleware.Chain(mux,
		middleware.RequestLogger(logger),
		middleware.Recover(logger),
		apiLimiter.Handler,
		middleware.CORS(cfg.CORSOrigin),
		middleware.SecurityHeaders,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.Int("port", cfg.Port), slog.String("storage", cfg.MediaStorage))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	slog.Info("server stopped")
	return nil
}
