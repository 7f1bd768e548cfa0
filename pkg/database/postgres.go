package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kindred-chat/config"
	"kindred-chat/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to Postgres through the pgx stdlib driver.
func Open(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Connection pool settings
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(100)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Direction selects which migration files ApplyRawMigrations runs.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// MigrationFiles lists NNN_name.<direction>.sql files in dir, ascending for up
// and descending for down.
func MigrationFiles(dir string, direction Direction) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}
	suffix := "." + string(direction) + ".sql"
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), suffix) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	if direction == Down {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}
	return files, nil
}

// ApplyRawMigrations reads .sql files from the migrations directory and executes them.
func ApplyRawMigrations(ctx context.Context, db *sql.DB, dir string, direction Direction) error {
	files, err := MigrationFiles(dir, direction)
	if err != nil {
		return err
	}
	log := logger.GetGlobalLogger()
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filepath.Base(path), err)
		}
		if log != nil {
			log.Infof("Applying migration: %s", filepath.Base(path))
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

var coreTables = []string{"users", "conversations", "messages"}

func CoreTables() []string {
	return append([]string(nil), coreTables...)
}

func TableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM information_schema.tables
            WHERE table_schema = 'public' AND table_name = $1
        )`, table).Scan(&exists)
	return exists, err
}

func TableCount(ctx context.Context, db *sql.DB, table string) (int64, error) {
	var count int64
	// table names come from coreTables only
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	return count, err
}

// HealthCheck pings the database and verifies the change-feed trigger exists.
func HealthCheck(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	var triggers int
	err := db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM pg_trigger
        WHERE tgname IN ('conversations_notify_change', 'messages_notify_change')
    `).Scan(&triggers)
	if err != nil {
		return fmt.Errorf("check triggers: %w", err)
	}
	if triggers != 2 {
		return fmt.Errorf("change feed triggers missing: found %d of 2", triggers)
	}
	return nil
}

// Truncate empties every core table.
func Truncate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `TRUNCATE TABLE messages, conversations, users`)
	return err
}
