package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rexproai/rexpro/internal/chat"
	"github.com/rexproai/rexpro/internal/log"
)

// Postgres stores sessions as JSONB documents keyed by session id with a
// user index for listing.
type Postgres struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewPostgres connects a pool and verifies it with a ping.
func NewPostgres(ctx context.Context, connString string, logger log.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Postgres{pool: pool, logger: logger.With("component", "store")}, nil
}

// NewPostgresWithPool wraps an existing pool, mainly for tests.
func NewPostgresWithPool(pool *pgxpool.Pool, logger log.Logger) *Postgres {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Postgres{pool: pool, logger: logger.With("component", "store")}
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Pool exposes the underlying pool for health probes.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// GetAll returns every session belonging to userID, newest first.
func (p *Postgres) GetAll(ctx context.Context, userID string) ([]*chat.Session, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT payload FROM chats WHERE user_id = $1 ORDER BY last_modified DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*chat.Session
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		var s chat.Session
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("decoding session payload: %w", err)
		}
		sessions = append(sessions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// Put inserts or replaces a session.
func (p *Postgres) Put(ctx context.Context, s *chat.Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO chats (id, user_id, payload, last_modified)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			payload = EXCLUDED.payload,
			last_modified = EXCLUDED.last_modified`,
		s.ID, s.UserID, payload, s.LastModified)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

// DeleteByID removes one session. Deleting an unknown id is not an error.
func (p *Postgres) DeleteByID(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// ClearAllForUser removes every session belonging to userID.
func (p *Postgres) ClearAllForUser(ctx context.Context, userID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM chats WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clearing sessions: %w", err)
	}
	return nil
}

// GetSetting returns the stored value for key, or ErrSettingNotFound.
func (p *Postgres) GetSetting(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM settings WHERE user_id = $1 AND key = $2`, userID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("querying setting: %w", err)
	}
	return value, nil
}

// PutSetting stores or replaces the value for key.
func (p *Postgres) PutSetting(ctx context.Context, userID, key, value string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO settings (user_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = now()`,
		userID, key, value)
	if err != nil {
		return fmt.Errorf("upserting setting: %w", err)
	}
	return nil
}
