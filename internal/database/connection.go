package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sddhantjaiii/callorch/internal/config"
)

// Connection wraps a pgx-backed *sql.DB connection pool. Using the stdlib
// adapter, rather than pgxpool directly, keeps the Repository's existing
// database/sql call sites intact while swapping the wire driver from MySQL
// to Postgres.
type Connection struct {
	DB *sql.DB
}

// NewConnection opens and verifies a connection to Postgres.
func NewConnection(cfg config.DatabaseConfig) (*Connection, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Connection{DB: db}, nil
}

// Close releases the connection pool.
func (c *Connection) Close() error {
	return c.DB.Close()
}
