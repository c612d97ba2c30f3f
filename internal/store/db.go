package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to Postgres through the pgx driver and verifies the
// connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// OpenRooms opens the database, applies pending migrations and returns a
// room store over it.
func OpenRooms(ctx context.Context, databaseURL, migrationsDir string) (*PostgresStore, error) {
	db, err := Open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if _, err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresStore(db), nil
}
