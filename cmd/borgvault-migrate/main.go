// Command borgvault-migrate applies pending ledger migrations and exits.
// Deployment runs it before the gateway ever sees a session, so migrations
// never race against live traffic.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/borgvault/borgvault/internal/config"
	"github.com/borgvault/borgvault/internal/ledger"

	// Ledger backends register themselves.
	_ "github.com/borgvault/borgvault/internal/ledger/postgres"
	_ "github.com/borgvault/borgvault/internal/ledger/sqlite"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("BORGVAULT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	// Opening the backend applies pending migrations.
	backend, err := ledger.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("migration failed")
		os.Exit(1)
	}
	defer backend.Close()

	if err := backend.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("ledger unreachable after migration")
		os.Exit(1)
	}

	logger.Info().Str("driver", cfg.Database.Driver).Msg("ledger is up to date")
}
