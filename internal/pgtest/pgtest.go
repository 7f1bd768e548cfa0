// Package pgtest starts a throwaway Postgres with the schema applied, for
// integration tests that need the real SQL and triggers.
package pgtest

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"kindred-chat/config"
	"kindred-chat/pkg/database"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const image = "postgres:16-alpine"

type Postgres struct {
	Config *config.Config
	DB     *sql.DB

	container *postgres.PostgresContainer
}

// Start runs the container and applies every up migration in migrationsDir.
// It fails when Docker is not reachable; callers skip in that case.
func Start(ctx context.Context, migrationsDir, changeChannel string) (*Postgres, error) {
	container, err := postgres.Run(ctx, image,
		postgres.WithDatabase("kindred_chat"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}
	p := &Postgres{container: container}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		p.Close()
		return nil, err
	}
	u, err := url.Parse(connStr)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	p.Config = &config.Config{
		DBHost:        u.Hostname(),
		DBPort:        u.Port(),
		DBUser:        "postgres",
		DBPassword:    "postgres",
		DBName:        "kindred_chat",
		DBSSLMode:     "disable",
		ChangeChannel: changeChannel,
		StoreTimeout:  10 * time.Second,
	}

	p.DB, err = database.Open(ctx, p.Config)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := database.ApplyRawMigrations(ctx, p.DB, migrationsDir, database.Up); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Reset empties every table between tests.
func (p *Postgres) Reset(ctx context.Context) error {
	return database.Truncate(ctx, p.DB)
}

func (p *Postgres) Close() {
	if p.DB != nil {
		_ = p.DB.Close()
	}
	if p.container != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = testcontainers.TerminateContainer(p.container, testcontainers.StopContext(ctx))
	}
}
