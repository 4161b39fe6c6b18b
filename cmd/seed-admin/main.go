package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/carmarket/api/internal/auth"
	"github.com/carmarket/api/internal/config"
	"github.com/carmarket/api/internal/database"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	_ = godotenv.Load()
	cfg := config.LoadDev()

	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: seed-admin <email> <password> [name]")
		os.Exit(2)
	}
	email, password, name := os.Args[1], os.Args[2], "Admin"
	if len(os.Args) > 3 {
		name = os.Args[3]
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	authService := auth.NewService(pool, auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry), cfg.TOTPIssuer, logger)

	if _, err := authService.GetByEmail(ctx, email); err == nil {
		fmt.Printf("Admin %s already exists\n", email)
		return
	} else if !errors.Is(err, auth.ErrAdminNotFound) {
		slog.Error("failed to look up admin", slog.String("error", err.Error()))
		os.Exit(1)
	}

	admin, err := authService.Create(ctx, email, name, password, auth.RoleSuperadmin)
	if err != nil {
		slog.Error("failed to create admin", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fmt.Printf("Admin created:\n  ID:    %s\n  Email: %s\n  Name:  %s\n  Role:  %s\n\nLog in with POST %s/api/auth/login\n",
		admin.ID, admin.Email, admin.Name, admin.Role, cfg.BaseURL)
}
