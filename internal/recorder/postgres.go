package recorder

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id               UUID         PRIMARY KEY,
    guild_id         TEXT         NOT NULL,
    user_id          TEXT         NOT NULL,
    text             TEXT         NOT NULL,
    matched_triggers TEXT[]       NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_guild_created
    ON transcripts (guild_id, created_at);
`

// Migrate creates the transcripts table and its index. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("recorder: migrate: %w", err)
	}
	return nil
}

// PostgresRecorder inserts events into the transcripts table.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

var _ Recorder = (*PostgresRecorder)(nil)

// NewPostgres connects to dsn, pings the server and runs [Migrate].
func NewPostgres(ctx context.Context, dsn string) (*PostgresRecorder, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("recorder: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("recorder: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("recorder: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRecorder{pool: pool}, nil
}

// Record implements [Recorder].
func (r *PostgresRecorder) Record(ctx context.Context, ev Event) error {
	const q = `
		INSERT INTO transcripts (id, guild_id, user_id, text, matched_triggers, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.pool.Exec(ctx, q,
		ev.ID,
		ev.GuildID,
		ev.UserID,
		ev.Text,
		ev.MatchedTriggers,
		ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recorder: insert transcript: %w", err)
	}
	return nil
}

// Recent returns up to limit events for guildID, newest first.
func (r *PostgresRecorder) Recent(ctx context.Context, guildID string, limit int) ([]Event, error) {
	const q = `
		SELECT id::text, guild_id, user_id, text, matched_triggers, created_at
		FROM   transcripts
		WHERE  guild_id = $1
		ORDER  BY created_at DESC
		LIMIT  $2`

	rows, err := r.pool.Query(ctx, q, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("recorder: query recent: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.GuildID, &ev.UserID, &ev.Text, &ev.MatchedTriggers, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("recorder: scan transcript: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recorder: iterate transcripts: %w", err)
	}
	return out, nil
}

// Ping checks the database connection.
func (r *PostgresRecorder) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the connection pool.
func (r *PostgresRecorder) Close() {
	r.pool.Close()
}
