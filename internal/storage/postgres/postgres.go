// Package postgres stores credit balances, ledger transactions and
// transcripts in PostgreSQL via database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/billing"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL DEFAULT '',
	credits    INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	amount      INTEGER NOT NULL,
	type        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS credit_transactions_user_idx
	ON credit_transactions (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS transcriptions (
	id                     UUID PRIMARY KEY,
	user_id                TEXT NOT NULL,
	transcription_text     TEXT NOT NULL,
	audio_duration_seconds INTEGER NOT NULL DEFAULT 0,
	credits_used           INTEGER NOT NULL DEFAULT 0,
	is_partial             BOOLEAN NOT NULL DEFAULT FALSE,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS transcriptions_user_idx
	ON transcriptions (user_id, created_at DESC);
`

// Config holds connection pool settings
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB implements billing.Ledger and storage.Store
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ billing.Ledger = (*DB)(nil)
	_ storage.Store  = (*DB)(nil)
)

// Open connects and pings the database
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db: db, logger: logger}, nil
}

// Migrate creates the tables if they do not exist
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	d.logger.Info("Database schema ready")
	return nil
}

// Close closes the pool
func (d *DB) Close() error {
	return d.db.Close()
}

// EnsureProfile inserts the profile with the signup bonus if missing
func (d *DB) EnsureProfile(ctx context.Context, userID, email string) (int, error) {
	var credits int
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (id, email, credits) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			userID, email, billing.FreeCredits)
		if err != nil {
			return err
		}

		if n, _ := res.RowsAffected(); n == 1 {
			if err := insertTransaction(ctx, tx, userID, billing.FreeCredits,
				billing.TransactionSignupBonus, "Welcome bonus credits"); err != nil {
				return err
			}
			d.logger.Info("Profile created",
				slog.String("user_id", userID),
				slog.Int("credits", billing.FreeCredits))
		}

		return tx.QueryRowContext(ctx, `SELECT credits FROM profiles WHERE id = $1`, userID).Scan(&credits)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to ensure profile: %w", err)
	}
	return credits, nil
}

// Balance returns the user's credits
func (d *DB) Balance(ctx context.Context, userID string) (int, error) {
	var credits int
	err := d.db.QueryRowContext(ctx, `SELECT credits FROM profiles WHERE id = $1`, userID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, billing.ErrProfileNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return credits, nil
}

// Deduct removes one credit with a conditional update
func (d *DB) Deduct(ctx context.Context, userID, description string) (int, error) {
	var remaining int
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`UPDATE profiles SET credits = credits - 1 WHERE id = $1 AND credits >= 1 RETURNING credits`,
			userID).Scan(&remaining)
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, userID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return billing.ErrProfileNotFound
			}
			return billing.ErrInsufficientCredit
		}
		if err != nil {
			return err
		}
		return insertTransaction(ctx, tx, userID, -1, billing.TransactionUsage, description)
	})
	if errors.Is(err, billing.ErrInsufficientCredit) || errors.Is(err, billing.ErrProfileNotFound) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("failed to deduct credit: %w", err)
	}
	return remaining, nil
}

// Add increases the user's credits
func (d *DB) Add(ctx context.Context, userID string, amount int, txType, description string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %d", amount)
	}

	var credits int
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`UPDATE profiles SET credits = credits + $2 WHERE id = $1 RETURNING credits`,
			userID, amount).Scan(&credits)
		if errors.Is(err, sql.ErrNoRows) {
			return billing.ErrProfileNotFound
		}
		if err != nil {
			return err
		}
		return insertTransaction(ctx, tx, userID, amount, txType, description)
	})
	if errors.Is(err, billing.ErrProfileNotFound) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("failed to add credits: %w", err)
	}
	return credits, nil
}

// Transactions returns the newest ledger entries first
func (d *DB) Transactions(ctx context.Context, userID string, limit int) ([]billing.Transaction, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, amount, type, description, created_at
		 FROM credit_transactions WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]billing.Transaction, 0)
	for rows.Next() {
		var t billing.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// Save inserts a transcript
func (d *DB) Save(ctx context.Context, userID string, n storage.NewTranscript) (*storage.Transcript, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	t := &storage.Transcript{
		ID:              uuid.NewString(),
		UserID:          userID,
		Text:            n.Text,
		DurationSeconds: n.RoundedDuration(),
		CreditsUsed:     n.CreditsUsed,
		IsPartial:       n.IsPartial,
	}

	err := d.db.QueryRowContext(ctx,
		`INSERT INTO transcriptions
		 (id, user_id, transcription_text, audio_duration_seconds, credits_used, is_partial)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		t.ID, t.UserID, t.Text, t.DurationSeconds, t.CreditsUsed, t.IsPartial).Scan(&t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save transcription: %w", err)
	}
	return t, nil
}

// List returns the user's newest transcripts
func (d *DB) List(ctx context.Context, userID string, limit int) ([]storage.Transcript, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, transcription_text, audio_duration_seconds, credits_used, is_partial, created_at
		 FROM transcriptions WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transcriptions: %w", err)
	}
	defer rows.Close()

	out := make([]storage.Transcript, 0)
	for rows.Next() {
		var t storage.Transcript
		if err := rows.Scan(&t.ID, &t.UserID, &t.Text, &t.DurationSeconds,
			&t.CreditsUsed, &t.IsPartial, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcription: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete removes a transcript owned by userID
func (d *DB) Delete(ctx context.Context, userID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return storage.ErrNotFound
	}

	res, err := d.db.ExecContext(ctx,
		`DELETE FROM transcriptions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete transcription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Warn("Rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}
	return tx.Commit()
}

func insertTransaction(ctx context.Context, tx *sql.Tx, userID string, amount int, txType, description string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, user_id, amount, type, description) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), userID, amount, txType, description)
	return err
}
