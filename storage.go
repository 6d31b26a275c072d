package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserExists is returned when signing up an email that is already taken.
var ErrUserExists = errors.New("user already exists")

// Store persists users and orchestration runs. The pipeline itself never
// touches storage; only the HTTP layer does, so handlers can be tested
// against an in-memory implementation.
type Store interface {
	CreateUser(ctx context.Context, email, hashedPassword string) (string, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SaveRun(ctx context.Context, run *OrchestrationRun) error
	ListRuns(ctx context.Context, userID string) ([]RunMetadata, error)
	GetRun(ctx context.Context, userID, runID string) (*OrchestrationRun, error)
}

// PostgresStore implements Store over a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	// One statement per Exec: pgx's extended protocol rejects batched DDL.
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id              TEXT PRIMARY KEY,
			email           TEXT NOT NULL UNIQUE,
			hashed_password TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orchestration_runs (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES users(id),
			session_id   TEXT NOT NULL,
			question     TEXT NOT NULL,
			competitors  TEXT[] NOT NULL,
			answers      TEXT[] NOT NULL,
			ranking      BIGINT[] NOT NULL,
			latency      JSONB NOT NULL,
			conversation JSONB NOT NULL,
			judge_model  TEXT NOT NULL,
			latency_ms   DOUBLE PRECISION NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_user_created
			ON orchestration_runs (user_id, created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// CreateUser inserts a new user and returns its id. Returns ErrUserExists
// when the email is already registered.
func (s *PostgresStore) CreateUser(ctx context.Context, email, hashedPassword string) (string, error) {
	id := uuid.New().String()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, hashed_password, created_at) VALUES ($1, $2, $3, $4)`,
		id, email, hashedPassword, time.Now().UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrUserExists
		}
		return "", fmt.Errorf("failed to insert user: %w", err)
	}

	return id, nil
}

// GetUserByEmail loads a user by email. Returns nil without error when no
// such user exists.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, hashed_password, created_at FROM users WHERE email = $1`,
		email,
	).Scan(&user.ID, &user.Email, &user.HashedPassword, &user.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	return &user, nil
}

// SaveRun persists a completed orchestration run.
func (s *PostgresStore) SaveRun(ctx context.Context, run *OrchestrationRun) error {
	latencyJSON, err := json.Marshal(run.Latency)
	if err != nil {
		return fmt.Errorf("failed to marshal latency: %w", err)
	}

	conversationJSON, err := json.Marshal(run.Conversation)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO orchestration_runs
			(id, user_id, session_id, question, competitors, answers, ranking,
			 latency, conversation, judge_model, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.UserID, run.SessionID, run.Question,
		run.Competitors, run.Answers, run.Ranking,
		latencyJSON, conversationJSON, run.JudgeModel, run.LatencyMS, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

// ListRuns returns the caller's run metadata, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, userID string) ([]RunMetadata, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, question, latency_ms, created_at
		 FROM orchestration_runs
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	// Initialize with empty slice to avoid null in JSON.
	runs := make([]RunMetadata, 0)
	for rows.Next() {
		var meta RunMetadata
		if err := rows.Scan(&meta.ID, &meta.SessionID, &meta.Question, &meta.LatencyMS, &meta.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run metadata: %w", err)
		}
		runs = append(runs, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}

	return runs, nil
}

// GetRun loads one of the caller's runs in full. Returns nil without error
// when the run doesn't exist or belongs to another user.
func (s *PostgresStore) GetRun(ctx context.Context, userID, runID string) (*OrchestrationRun, error) {
	var run OrchestrationRun
	var latencyJSON, conversationJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, session_id, question, competitors, answers, ranking,
			latency, conversation, judge_model, latency_ms, created_at
		 FROM orchestration_runs
		 WHERE id = $1 AND user_id = $2`,
		runID, userID,
	).Scan(&run.ID, &run.UserID, &run.SessionID, &run.Question,
		&run.Competitors, &run.Answers, &run.Ranking,
		&latencyJSON, &conversationJSON, &run.JudgeModel, &run.LatencyMS, &run.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	if err := json.Unmarshal(latencyJSON, &run.Latency); err != nil {
		return nil, fmt.Errorf("failed to parse latency JSON: %w", err)
	}
	if err := json.Unmarshal(conversationJSON, &run.Conversation); err != nil {
		return nil, fmt.Errorf("failed to parse conversation JSON: %w", err)
	}

	return &run, nil
}
