package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/discount-engine/internal/app"
	"github.com/xenking/discount-engine/internal/audience"
)

func main() {
	_ = godotenv.Load()

	var (
		storage     app.StorageConfig
		ruleID      string
		list        string
		replace     bool
		minFiles    int
		expectedIDs uint
	)

	flag.StringVar(&storage.Driver, "driver", app.DriverPostgres, "rule store: postgres or sqlite")
	flag.StringVar(&storage.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&storage.SQLitePath, "sqlite-path", "discounts.db", "SQLite database file")
	flag.StringVar(&ruleID, "rule", "", "discount rule id to update")
	flag.StringVar(&list, "list", string(audience.Allow), "customer list to update: allow or deny")
	flag.BoolVar(&replace, "replace", false, "replace the list instead of merging into it")
	flag.IntVar(&minFiles, "min-files", 1, "keep only customers present in at least this many files")
	flag.UintVar(&expectedIDs, "expected-ids", 1_000_000, "expected customers per file, sizes bloom filters")
	flag.Parse()

	if storage.DatabaseURL == "" {
		storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	opts := audience.Options{MinFiles: minFiles, ExpectedIDs: expectedIDs}
	if err := run(ctx, storage, ruleID, audience.List(list), replace, opts, flag.Args()); err != nil {
		slog.Error("audience ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("audience ingest completed successfully")
}

func run(
	ctx context.Context,
	storage app.StorageConfig,
	ruleID string,
	list audience.List,
	replace bool,
	opts audience.Options,
	files []string,
) error {
	if ruleID == "" {
		return errors.New("rule id is required: set --rule")
	}
	if storage.Driver == app.DriverPostgres && storage.DatabaseURL == "" {
		return errors.New("database URL is required: set --database-url or DATABASE_URL")
	}

	slog.Info("collecting customer ids", slog.Int("files", len(files)), slog.Int("min_files", opts.MinFiles))

	ids, err := audience.Collect(ctx, files, opts)
	if err != nil {
		return errors.Wrap(err, "collect customer ids")
	}

	slog.Info("customer ids collected", slog.Int("count", len(ids)))

	store, closeStore, err := app.OpenRuleStore(ctx, storage)
	if err != nil {
		return errors.Wrap(err, "open rule store")
	}
	defer closeStore()

	rule, err := store.GetRule(ctx, ruleID)
	if err != nil {
		return errors.Wrapf(err, "get rule %s", ruleID)
	}
	if err := audience.Apply(rule, list, ids, replace); err != nil {
		return err
	}
	if err := store.SaveRule(ctx, rule); err != nil {
		return errors.Wrapf(err, "save rule %s", ruleID)
	}

	slog.Info("rule audience updated",
		slog.String("rule", ruleID),
		slog.String("list", string(list)),
		slog.Int("allowed", len(rule.AllowedCustomerIDs)),
		slog.Int("excluded", len(rule.ExcludedCustomerIDs)),
	)
	return nil
}
