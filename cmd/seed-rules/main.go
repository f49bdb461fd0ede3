package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/discount-engine/internal/app"
	"github.com/xenking/discount-engine/internal/rulepack"
)

func main() {
	_ = godotenv.Load()

	var (
		storage  app.StorageConfig
		packFile string
		dryRun   bool
	)

	flag.StringVar(&storage.Driver, "driver", app.DriverPostgres, "rule store: postgres or sqlite")
	flag.StringVar(&storage.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&storage.SQLitePath, "sqlite-path", "discounts.db", "SQLite database file")
	flag.StringVar(&packFile, "pack", "db/seed/rules.yaml", "path to the YAML rule pack")
	flag.BoolVar(&dryRun, "dry-run", false, "validate the pack without writing")
	flag.Parse()

	if storage.DatabaseURL == "" {
		storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, storage, packFile, dryRun); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, storage app.StorageConfig, packFile string, dryRun bool) error {
	slog.Info("reading rule pack", slog.String("path", packFile))

	pack, err := rulepack.LoadFile(packFile)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if dryRun {
		rules, err := pack.Build(now)
		if err != nil {
			return errors.Wrap(err, "validate rule pack")
		}
		slog.Info("rule pack is valid",
			slog.Int("rules", len(rules)),
			slog.Int("products", len(pack.Categories)),
		)
		return nil
	}

	if storage.Driver == app.DriverPostgres && storage.DatabaseURL == "" {
		return errors.New("database URL is required: set --database-url or DATABASE_URL")
	}

	slog.Info("opening rule store", slog.String("driver", storage.Driver))

	store, closeStore, err := app.OpenRuleStore(ctx, storage)
	if err != nil {
		return errors.Wrap(err, "open rule store")
	}
	defer closeStore()

	res, err := pack.Seed(ctx, store, store, now)
	if err != nil {
		return errors.Wrap(err, "seed rule pack")
	}

	slog.Info("rule pack written",
		slog.Int("rules", res.Rules),
		slog.Int("products", res.Products),
	)
	return nil
}
