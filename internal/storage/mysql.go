package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MySQLStorage keeps failed events in the failed_events table.
type MySQLStorage struct {
	db *sql.DB
}

func NewMySQLStorage(dsn string) (*MySQLStorage, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	// tune pool
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)

	logger.Get().Infow("mysql storage initialized")
	return &MySQLStorage{db: db}, nil
}

func (s *MySQLStorage) DB() *sql.DB {
	return s.db
}

func (s *MySQLStorage) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema migrations.
func (s *MySQLStorage) Migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratemysql.WithInstance(s.db, &migratemysql.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "mysql", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	logger.Get().Infow("mysql migrations applied")
	return nil
}

// Write upserts a failed event keyed by its attempt key, so a repeated
// write for the same payload only refreshes the attempt count.
func (s *MySQLStorage) Write(ctx context.Context, ev FailedEvent) error {
	log := logger.Get().With("component", "mysql_storage")

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failed_events (event_key, body, attempts, reason, failed_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE attempts = VALUES(attempts), reason = VALUES(reason), failed_at = VALUES(failed_at)
	`, ev.Key, ev.Body, ev.Attempts, ev.Reason, ev.FailedAt)
	if err != nil {
		log.Errorw("insert failed",
			"key", ev.Key,
			"reason", ev.Reason,
			"error", err,
		)
		return fmt.Errorf("insert failed: %w", err)
	}

	log.Infow("failed event stored", "key", ev.Key, "attempts", ev.Attempts)
	return nil
}
