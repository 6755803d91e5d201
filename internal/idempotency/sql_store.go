package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const migrationsTable = "checkout_schema_migrations"

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// SQLStore keeps idempotency keys in Postgres, or SQLite for local runs and tests.
// Queries are written in the dialect both accept.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

func NewPostgresStore(cred *Credentials) (*SQLStore, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	return &SQLStore{db: db, dialect: "postgres"}, nil
}

func NewSQLiteStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLStore{db: db, dialect: "sqlite"}, nil
}

func (s *SQLStore) RunMigrations(migrationsPath string) error {
	var (
		driver database.Driver
		err    error
	)
	switch s.dialect {
	case "postgres":
		driver, err = postgres.WithInstance(s.db, &postgres.Config{MigrationsTable: migrationsTable})
	default:
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{MigrationsTable: migrationsTable})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		s.dialect,
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (*Record, error) {
	rec := Record{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT cart_id, attempt_id FROM checkout_idempotency_keys WHERE idempotency_key = $1`,
		key,
	).Scan(&rec.CartID, &rec.AttemptID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency key: %w", err)
	}
	return &rec, nil
}

func (s *SQLStore) Save(ctx context.Context, rec Record) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO checkout_idempotency_keys (idempotency_key, cart_id, attempt_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		rec.Key, rec.CartID, rec.AttemptID,
	)
	if err != nil {
		return fmt.Errorf("failed to save idempotency key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save idempotency key: %w", err)
	}
	if n == 0 {
		return ErrKeyExists
	}
	return nil
}

func (s *SQLStore) SetAttempt(ctx context.Context, key, attemptID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE checkout_idempotency_keys SET attempt_id = $1 WHERE idempotency_key = $2`,
		attemptID, key,
	)
	if err != nil {
		return fmt.Errorf("failed to update idempotency key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update idempotency key: %w", err)
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkout_idempotency_keys WHERE idempotency_key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete idempotency key: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
