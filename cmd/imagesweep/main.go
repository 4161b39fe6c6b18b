// Command imagesweep deletes staged uploads of batches that were never
// committed to a listing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/carmarket/api/internal/config"
	"github.com/carmarket/api/internal/services/images"
	"github.com/carmarket/api/internal/storage"
)

// errDeletesFailed is returned when some stale uploads could not be deleted.
var errDeletesFailed = errors.New("some staged uploads could not be deleted")

func main() {
	age := flag.Duration("age", 48*time.Hour, "Delete staged uploads older than this")
	dryRun := flag.Bool("dry-run", false, "List stale uploads without deleting them")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", slog.String("error", err.Error()))
	}

	if err := run(config.LoadDev(), *age, *dryRun, logger); err != nil {
		slog.Error("sweep failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, age time.Duration, dryRun bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := storage.Open(ctx, cfg.StorageOptions(), logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer closeStore()

	svc := images.NewService(store, images.Config{MaxBytes: cfg.Upload.MaxBytes, SignedURLTTL: cfg.Upload.SignedURLTTL}, logger)
	return sweep(ctx, svc, age, dryRun, os.Stdout)
}

// sweep runs one pass and prints the stale keys and a summary to out.
func sweep(ctx context.Context, svc *images.Service, age time.Duration, dryRun bool, out io.Writer) error {
	res, err := svc.Sweep(ctx, age, dryRun)
	if err != nil {
		return err
	}

	for _, key := range res.Stale {
		fmt.Fprintln(out, key)
	}
	if dryRun {
		fmt.Fprintf(out, "%d staged objects scanned, %d older than %s (dry run, nothing deleted)\n", res.Scanned, len(res.Stale), age)
		return nil
	}
	fmt.Fprintf(out, "%d staged objects scanned, %d deleted, %d failed\n", res.Scanned, res.Deleted, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", errDeletesFailed, res.Failed, len(res.Stale))
	}
	return nil
}
