package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"kindred-chat/config"
	"kindred-chat/internal/repository"
	"kindred-chat/pkg/database"
	"kindred-chat/pkg/logger"
)

const usage = `
Kindred Chat - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Apply all *.up.sql migrations
  down        Apply all *.down.sql migrations
  status      Show database connection and table status
  seed-dev    Seed the sample users and conversation
  truncate    Truncate all tables (DANGEROUS)

Flags:
  -migrations string   Path to migrations directory (default "migrations")

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go seed-dev
`

func main() {
	migrationsDir := flag.String("migrations", "migrations", "Path to migrations directory")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.LoadConfig()
	log := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(log)
	defer log.Sync()

	ctx := context.Background()
	db, err := database.Open(ctx, cfg)
	if err != nil {
		log.Errorf("Database connection failed: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	switch command := flag.Arg(0); command {
	case "up":
		run(log, "Migrations applied", database.ApplyRawMigrations(ctx, db, *migrationsDir, database.Up))
	case "down":
		run(log, "Rollback completed", database.ApplyRawMigrations(ctx, db, *migrationsDir, database.Down))
	case "status":
		showStatus(ctx, log, db)
	case "seed-dev":
		result, err := database.SeedDevelopment(ctx,
			repository.NewUserRepository(db),
			repository.NewConversationRepository(db),
			repository.NewMessageRepository(db),
		)
		if err == nil {
			log.Infof("Seeded %d users, %d conversations, %d messages",
				result.Users, len(result.Conversations), len(result.Messages))
		}
		run(log, "Development seeding completed", err)
	case "truncate":
		log.Warnf("Truncating all tables")
		run(log, "All tables truncated", database.Truncate(ctx, db))
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func run(log *logger.Logger, done string, err error) {
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	log.Infof("%s", done)
}

func showStatus(ctx context.Context, log *logger.Logger, db *sql.DB) {
	for _, table := range database.CoreTables() {
		exists, err := database.TableExists(ctx, db, table)
		if err != nil {
			log.Warnf("Error checking table %s: %v", table, err)
			continue
		}
		if !exists {
			log.Warnf("Table %-15s does not exist", table)
			continue
		}
		count, _ := database.TableCount(ctx, db, table)
		log.Infof("Table %-15s exists (%d rows)", table, count)
	}

	if err := database.HealthCheck(ctx, db); err != nil {
		log.Warnf("Health check warning: %v", err)
		return
	}
	log.Infof("Health check: PASSED")
}
