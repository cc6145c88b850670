// cmd/seeder/main.go
package main

import (
	"context"
	"os"

	"github.com/unclebandit/zapdispatch/internal/config"
	"github.com/unclebandit/zapdispatch/internal/db"
	"github.com/unclebandit/zapdispatch/internal/logging"
)

// Applies the schema, then every seed file given on the command line (or
// the default ones).
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(logging.Config{})
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.New(cfg.LogConfig())
	if cfg.DB.Driver == db.DriverMemory {
		log.Fatal().Msg("nothing to seed with DB_DRIVER=memory")
	}

	conn, err := db.Open(cfg.DBConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to DB")
	}
	defer conn.Close()

	if err := db.Migrate(conn, cfg.DB.Driver); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Str("driver", cfg.DB.Driver).Msg("schema up to date")

	seedFiles := os.Args[1:]
	if len(seedFiles) == 0 {
		seedFiles = []string{
			"seed/contacts.sql",
			"seed/groups.sql",
		}
	}

	ctx := context.Background()
	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to read seed file")
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to execute seed file")
		}
		log.Info().Str("file", file).Msg("seeded")
	}

	log.Info().Msg("database seeding completed")
}
