package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// DB is the shared connection pool, set by Init
var DB *sql.DB

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id    TEXT PRIMARY KEY,
	email TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS custom_quotas (
	email              TEXT PRIMARY KEY,
	audio_file_size_mb DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS transcribe_requests (
	user_id    TEXT NOT NULL,
	id         TEXT NOT NULL,
	status     TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT '',
	revision   BIGINT NOT NULL,
	data       JSONB NOT NULL,
	PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS transcribe_request_event_logs (
	seq        BIGSERIAL PRIMARY KEY,
	user_id    TEXT NOT NULL,
	request_id TEXT NOT NULL,
	event      TEXT NOT NULL,
	time       TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS transcribe_request_event_logs_request_idx
	ON transcribe_request_event_logs (user_id, request_id, seq);

CREATE TABLE IF NOT EXISTS transcripts (
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	request_id TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, name)
);

CREATE INDEX IF NOT EXISTS transcripts_request_idx ON transcripts (user_id, request_id);
`

// Init opens the Postgres pool for databaseURL and creates missing tables
func Init(databaseURL string) error {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	DB = conn
	log.Printf("[DB] Connected and schema is up to date")
	return nil
}
