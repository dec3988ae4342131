// Package audit persists the access trail required for consent and
// compliance review.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ayushsetu/ayushsetu/internal/platform/middleware"
)

// Record is one stored audit row.
type Record struct {
	ID           uuid.UUID `json:"id"`
	ActorID      string    `json:"actor_id,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Path         string    `json:"path"`
	Method       string    `json:"method"`
	IPAddress    string    `json:"ip_address,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	StatusCode   int       `json:"status_code"`
	Timestamp    time.Time `json:"timestamp"`
}

// Recorder writes audit entries to PostgreSQL. Failures are logged and
// swallowed so a broken audit store never blocks a request.
type Recorder struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewRecorder(pool *pgxpool.Pool, logger zerolog.Logger) *Recorder {
	return &Recorder{pool: pool, logger: logger.With().Str("component", "audit").Logger()}
}

// RecordAccess implements middleware.AuditRecorder. Writes never join a
// caller transaction; the trail survives rollbacks.
func (r *Recorder) RecordAccess(entry middleware.AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs
			(id, actor_id, action, resource_type, resource_id, path, method,
			 ip_address, request_id, status_code, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		uuid.New(), entry.ActorID, entry.Action, entry.ResourceType,
		entry.ResourceID, entry.Path, entry.Method, entry.IPAddress,
		entry.RequestID, entry.StatusCode, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

// Recent returns the latest audit rows, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, COALESCE(actor_id,''), action, COALESCE(resource_type,''),
		       COALESCE(resource_id,''), path, method, COALESCE(ip_address,''),
		       COALESCE(request_id,''), status_code, occurred_at
		FROM audit_logs ORDER BY occurred_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit rows: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.Action, &rec.ResourceType,
			&rec.ResourceID, &rec.Path, &rec.Method, &rec.IPAddress,
			&rec.RequestID, &rec.StatusCode, &rec.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
