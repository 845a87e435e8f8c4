package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"regwatch-ai/backend/internal/apperrors"
	"regwatch-ai/backend/internal/config"
	"regwatch-ai/backend/internal/logging"
	"regwatch-ai/backend/internal/repository"
)

func main() {
	var configPath, corpusPath string

	cmd := &cobra.Command{
		Use:           "regwatch-seed",
		Short:         "Load a YAML corpus of circulars and organization profiles into Postgres",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return seed(cmd.Context(), configPath, corpusPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (yaml or .env)")
	cmd.Flags().StringVar(&corpusPath, "corpus", "", "Path to the corpus YAML file")
	_ = cmd.MarkFlagRequired("corpus")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func seed(ctx context.Context, configPath, corpusPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return apperrors.Wrap(err, "configuration loading failed")
	}
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = logger.Sync() }()

	if !cfg.UsesDatabase() {
		return errors.New("no database configured (set REGWATCH_DB_HOST or db.host)")
	}

	f, err := os.Open(corpusPath)
	if err != nil {
		return apperrors.Wrap(err, "open corpus")
	}
	corpus, err := repository.LoadCorpus(f)
	f.Close()
	if err != nil {
		return apperrors.Wrap(err, "load corpus")
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return apperrors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return apperrors.Wrap(err, "migrate schema")
	}

	stats, err := corpus.Seed(ctx, store, time.Now().UTC())
	if err != nil {
		return apperrors.Wrap(err, "seed corpus")
	}
	logger.Info("Seeding complete",
		"corpus", corpusPath,
		"profiles", stats.Profiles,
		"documents", stats.Documents,
		"skipped_existing", stats.Skipped,
	)
	return nil
}
