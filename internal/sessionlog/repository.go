// Package sessionlog stores the history of receiver sessions in PostgreSQL.
package sessionlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/digitalcircuit/remote-haptics/internal/models"
)

// Repository handles haptic_sessions and recording_archives.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Start inserts a row when a client connects.
func (r *Repository) Start(ctx context.Context, s models.HapticSession) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO haptic_sessions (id, peer, session_type, started_at) VALUES ($1, $2, $3, $4)`,
		s.ID, s.Peer, s.Type, s.StartedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SetType records the session type announced by the client.
func (r *Repository) SetType(ctx context.Context, id uuid.UUID, sessionType string) error {
	_, err := r.pool.Exec(ctx, `UPDATE haptic_sessions SET session_type = $2 WHERE id = $1`, id, sessionType)
	if err != nil {
		return fmt.Errorf("update session type: %w", err)
	}
	return nil
}

// SetRecording records the file a session is written to.
func (r *Repository) SetRecording(ctx context.Context, id uuid.UUID, path string) error {
	_, err := r.pool.Exec(ctx, `UPDATE haptic_sessions SET recording_path = $2 WHERE id = $1`, id, path)
	if err != nil {
		return fmt.Errorf("update session recording: %w", err)
	}
	return nil
}

// End closes the session row.
func (r *Repository) End(ctx context.Context, id uuid.UUID, endedAt time.Time, updates int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE haptic_sessions SET ended_at = $2, updates = $3 WHERE id = $1 AND ended_at IS NULL`,
		id, endedAt, updates)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// ListRecent returns the latest sessions, newest first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]models.HapticSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, peer, session_type, COALESCE(recording_path, ''), updates, started_at, ended_at
		 FROM haptic_sessions ORDER BY started_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.HapticSession
	for rows.Next() {
		var s models.HapticSession
		if err := rows.Scan(&s.ID, &s.Peer, &s.Type, &s.Recording, &s.Updates, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// SetArchiveStatus upserts the archive state of a recording file.
func (r *Repository) SetArchiveStatus(ctx context.Context, path string, sessionID uuid.UUID, status, key string, size int64, archiveErr error) error {
	var errText *string
	if archiveErr != nil {
		s := archiveErr.Error()
		errText = &s
	}
	var session *uuid.UUID
	if sessionID != uuid.Nil {
		session = &sessionID
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO recording_archives (path, session_id, status, s3_key, size_bytes, error, updated_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NOW())
		 ON CONFLICT (path) DO UPDATE SET status = EXCLUDED.status, s3_key = EXCLUDED.s3_key,
		   size_bytes = EXCLUDED.size_bytes, error = EXCLUDED.error, updated_at = NOW()`,
		path, session, status, key, size, errText)
	if err != nil {
		return fmt.Errorf("upsert archive status: %w", err)
	}
	return nil
}
