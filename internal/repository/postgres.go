package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"khmerscribe/internal/db"
	"khmerscribe/internal/model"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres SQLSTATE for duplicate keys
const uniqueViolation = "23505"

type postgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Store backed by the shared database connection
func NewPostgresStore() Store {
	return newPostgresStore(db.DB)
}

func newPostgresStore(conn *sql.DB) *postgresStore {
	return &postgresStore{
		db: conn,
	}
}

// requestData strips the fields that are stored outside the data column
func requestData(req *model.Request) ([]byte, error) {
	c := req.Clone()
	c.EventLogs = nil
	c.Revision = 0
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transcribe request: %w", err)
	}
	return data, nil
}

func (s *postgresStore) GetRequest(ctx context.Context, userID, id string) (*model.Request, error) {
	query := `
		SELECT revision, data
		FROM transcribe_requests
		WHERE user_id = $1 AND id = $2
	`

	var revision int64
	var data []byte
	err := s.db.QueryRowContext(ctx, query, userID, id).Scan(&revision, &data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transcribe request %s/%s: %w", userID, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcribe request: %w", err)
	}

	var req model.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcribe request: %w", err)
	}
	req.Revision = revision

	req.EventLogs, err = s.ListEvents(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// lockRequest loads the stored record for update and verifies the revision of req.
// A nil result with a nil error means the record does not exist yet.
func lockRequest(ctx context.Context, tx *sql.Tx, req *model.Request) (*model.Request, error) {
	query := `
		SELECT revision, data
		FROM transcribe_requests
		WHERE user_id = $1 AND id = $2
		FOR UPDATE
	`

	var revision int64
	var data []byte
	err := tx.QueryRowContext(ctx, query, req.UserID, req.ID).Scan(&revision, &data)
	if err == sql.ErrNoRows {
		if req.Revision != 0 {
			return nil, fmt.Errorf("transcribe request %s no longer exists: %w", req.Key(), ErrConflict)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock transcribe request: %w", err)
	}
	if revision != req.Revision {
		return nil, fmt.Errorf("transcribe request %s at revision %d, write based on %d: %w",
			req.Key(), revision, req.Revision, ErrConflict)
	}

	var stored model.Request
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcribe request: %w", err)
	}
	stored.Revision = revision
	return &stored, nil
}

// writeRequest inserts or updates the locked record and advances the revision
func writeRequest(ctx context.Context, tx *sql.Tx, stored *model.Request, existed bool) error {
	data, err := requestData(stored)
	if err != nil {
		return err
	}

	if !existed {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transcribe_requests (user_id, id, status, updated_at, revision, data)
			VALUES ($1, $2, $3, $4, 1, $5::jsonb)
		`, stored.UserID, stored.ID, stored.Status, stored.UpdatedAt, data)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE transcribe_requests
			SET status = $3, updated_at = $4, revision = revision + 1, data = $5::jsonb
			WHERE user_id = $1 AND id = $2
		`, stored.UserID, stored.ID, stored.Status, stored.UpdatedAt, data)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("transcribe request %s created concurrently: %w", stored.Key(), ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to write transcribe request: %w", err)
	}
	return nil
}

func (s *postgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *postgresStore) SaveRequest(ctx context.Context, req *model.Request) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stored, err := lockRequest(ctx, tx, req)
		if err != nil {
			return err
		}
		existed := stored != nil
		if !existed {
			stored = &model.Request{}
		}
		stored.Merge(req)
		return writeRequest(ctx, tx, stored, existed)
	})
	if err != nil {
		return err
	}
	req.Revision++
	return nil
}

func (s *postgresStore) UpdateStatus(ctx context.Context, req *model.Request, event model.EventLog) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stored, err := lockRequest(ctx, tx, req)
		if err != nil {
			return err
		}
		existed := stored != nil
		if !existed {
			stored = req.Clone()
		}
		applyLifecycleFields(stored, req)
		if err := writeRequest(ctx, tx, stored, existed); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO transcribe_request_event_logs (user_id, request_id, event, time, error)
			VALUES ($1, $2, $3, $4, $5)
		`, req.UserID, req.ID, event.Event, event.Time, event.Error)
		if err != nil {
			return fmt.Errorf("failed to append event log: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	req.Revision++
	return nil
}

func (s *postgresStore) ListEvents(ctx context.Context, userID, id string) ([]model.EventLog, error) {
	query := `
		SELECT event, time, error
		FROM transcribe_request_event_logs
		WHERE user_id = $1 AND request_id = $2
		ORDER BY seq
	`

	rows, err := s.db.QueryContext(ctx, query, userID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query event logs: %w", err)
	}
	defer rows.Close()

	var events []model.EventLog
	for rows.Next() {
		var e model.EventLog
		var status string
		if err := rows.Scan(&status, &e.Time, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan event log: %w", err)
		}
		e.Event = model.Status(status)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event logs: %w", err)
	}
	return events, nil
}

func (s *postgresStore) DeleteRequest(ctx context.Context, userID, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM transcribe_request_event_logs WHERE user_id = $1 AND request_id = $2
		`, userID, id); err != nil {
			return fmt.Errorf("failed to delete event logs: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			DELETE FROM transcribe_requests WHERE user_id = $1 AND id = $2
		`, userID, id)
		if err != nil {
			return fmt.Errorf("failed to delete transcribe request: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("transcribe request %s/%s: %w", userID, id, ErrNotFound)
		}
		return nil
	})
}

func (s *postgresStore) PutTranscript(ctx context.Context, userID string, doc *model.TranscriptDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transcripts (user_id, name, request_id, data)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (user_id, name) DO UPDATE
		SET request_id = EXCLUDED.request_id, data = EXCLUDED.data
	`, userID, doc.Name, doc.ID, data)
	if err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

func (s *postgresStore) FindTranscript(ctx context.Context, userID, requestID string) (*model.TranscriptDocument, error) {
	query := `
		SELECT data
		FROM transcripts
		WHERE user_id = $1 AND request_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	var data []byte
	err := s.db.QueryRowContext(ctx, query, userID, requestID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transcript for request %s/%s: %w", userID, requestID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}

	var doc model.TranscriptDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	return &doc, nil
}

func (s *postgresStore) GetUserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user email: %w", err)
	}
	return email, nil
}

func (s *postgresStore) GetCustomQuota(ctx context.Context, email string) (*model.CustomQuota, error) {
	quota := &model.CustomQuota{Email: email}
	var sizeMB sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT audio_file_size_mb FROM custom_quotas WHERE email = $1
	`, email).Scan(&sizeMB)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get custom quota: %w", err)
	}
	if sizeMB.Valid {
		quota.AudioFileSizeMB = &sizeMB.Float64
	}
	return quota, nil
}
