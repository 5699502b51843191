package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DB wraps a Postgres connection pool.
type DB struct {
	*sql.DB
}

func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{conn}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tracks (
	id               UUID PRIMARY KEY,
	file_name        TEXT NOT NULL,
	audio_url        TEXT,
	sensitivity      DOUBLE PRECISION NOT NULL,
	tempo            DOUBLE PRECISION NOT NULL DEFAULT 0,
	overall_energy   DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	analysis         JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS scenes (
	track_id            UUID NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
	timestamp           DOUBLE PRECISION NOT NULL,
	prompt              TEXT NOT NULL,
	duration            DOUBLE PRECISION NOT NULL,
	image_url           TEXT NOT NULL DEFAULT '',
	video_url           TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'pending',
	job_id              TEXT NOT NULL DEFAULT '',
	error_message       TEXT NOT NULL DEFAULT '',
	has_edited_artifact BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (track_id, timestamp)
);
`

// Migrate creates the tables the service needs if they are missing.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
