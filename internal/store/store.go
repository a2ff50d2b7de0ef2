// Package store is the persistence layer over PostgreSQL. One Store wraps
// one sqlx pool; callers get short-lived contexts per operation and
// natural-key idempotency through the GetOrCreate methods, which are the
// sole create path for externally-keyed entities.
package store

import (
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store provides typed access to the relational schema.
type Store struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// New connects to PostgreSQL and configures the shared pool.
func New(dsn string, logger *logrus.Logger) (*Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing connection, mainly for tests.
func NewWithDB(db *sqlx.DB, logger *logrus.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity, used by the health endpoint.
func (s *Store) Ping() error {
	return s.db.Ping()
}
