// Package store persists users and finished sessions in Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/sift-labs/sift/internal/agent/core"
)

// User is an account row.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// SessionRecord is a finished (or paused) session as persisted.
type SessionRecord struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Query      string          `json:"query"`
	Status     string          `json:"status"`
	Confidence float64         `json:"confidence"`
	Iterations int             `json:"iterations"`
	Results    json.RawMessage `json:"results"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt sql.NullTime    `json:"finished_at"`
}

// Store wraps the database handle.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects and verifies the database.
func Open(ctx context.Context, dsn string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[STORE] ", log.LstdFlags)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing handle, mainly for tests.
func NewWithDB(db *sql.DB, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(log.Writer(), "[STORE] ", log.LstdFlags)
	}
	return &Store{db: db, logger: logger}
}

// Close releases the handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies all pending migrations from the given directory.
func Migrate(dsn, migrationsDir string) error {
	m, err := migrate.New("file://"+migrationsDir, dsn)
	if err != nil {
		return fmt.Errorf("initializing migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// CreateUser inserts an account and returns its ID.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, NOW())`,
		id, email, passwordHash,
	)
	if err != nil {
		return "", fmt.Errorf("creating user %s: %w", email, err)
	}
	return id, nil
}

// GetUserByEmail fetches an account for login.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`,
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, core.NotFoundError{Kind: "user", Name: email}
	}
	if err != nil {
		return User{}, fmt.Errorf("fetching user %s: %w", email, err)
	}
	return u, nil
}

// SaveSession upserts a session snapshot.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) error {
	if rec.ID == "" {
		return core.ValidationError{Field: "id", Reason: "session id is required"}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, query, status, confidence, iterations, results, created_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), $8)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   confidence = EXCLUDED.confidence,
		   iterations = EXCLUDED.iterations,
		   results = EXCLUDED.results,
		   finished_at = EXCLUDED.finished_at`,
		rec.ID, rec.UserID, rec.Query, rec.Status, rec.Confidence, rec.Iterations, rec.Results, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", rec.ID, err)
	}
	return nil
}

// GetSession fetches one session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	var rec SessionRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, query, status, confidence, iterations, results, created_at, finished_at
		 FROM sessions WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.UserID, &rec.Query, &rec.Status, &rec.Confidence, &rec.Iterations, &rec.Results, &rec.CreatedAt, &rec.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, core.NotFoundError{Kind: "session", Name: id}
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("fetching session %s: %w", id, err)
	}
	return rec, nil
}

// ListSessions returns a user's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, query, status, confidence, iterations, results, created_at, finished_at
		 FROM sessions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Query, &rec.Status, &rec.Confidence, &rec.Iterations, &rec.Results, &rec.CreatedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
