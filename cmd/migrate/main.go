// Schema management CLI for the Postgres backend.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/config"
	"github.com/perpsight/perpsight/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	command := flag.String("command", "migrate", "command to run: migrate or status")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	if !cfg.Database.Enabled() {
		log.Fatal().Msg("No database configured; set database.host")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Postgres")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Str("host", cfg.Database.Host).Msg("Database unreachable")
	}

	switch *command {
	case "migrate":
		store := storage.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Schema migration failed")
		}
		log.Info().Msg("Schema up to date")
	case "status":
		for _, table := range []string{"feedback_journal", "pattern_weights", "signal_quality"} {
			var exists bool
			err := pool.QueryRow(ctx,
				"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)",
				table,
			).Scan(&exists)
			if err != nil {
				log.Fatal().Err(err).Str("table", table).Msg("Status check failed")
			}
			log.Info().Str("table", table).Bool("exists", exists).Msg("Table status")
		}
	default:
		log.Fatal().Str("command", *command).Msg("Unknown command")
	}
}
