package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyceum-app/lyceum/internal/core"
)

// PG persists entries in the audit_entries table:
//
//	CREATE TABLE audit_entries (
//	    id             UUID PRIMARY KEY,
//	    at             TIMESTAMPTZ NOT NULL,
//	    principal_id   TEXT NOT NULL,
//	    operation      TEXT NOT NULL,
//	    resource_path  TEXT NOT NULL,
//	    before         JSONB,
//	    after          JSONB,
//	    status         TEXT NOT NULL,
//	    failure_reason TEXT NOT NULL DEFAULT ''
//	);
//	CREATE INDEX audit_entries_at_idx ON audit_entries (at);
//
// The type issues INSERT and SELECT only. Grant the application role no
// UPDATE or DELETE on this table so the append-only contract holds at the
// database as well.
type PG struct {
	pool *pgxpool.Pool
}

func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool}
}

// Append implements Recorder.
func (s *PG) Append(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	before, err := marshalSnapshot(entry.Before)
	if err != nil {
		return fmt.Errorf("audit: encode before: %w", err)
	}
	after, err := marshalSnapshot(entry.After)
	if err != nil {
		return fmt.Errorf("audit: encode after: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_entries
			(id, at, principal_id, operation, resource_path, before, after, status, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.At, entry.PrincipalID, entry.Operation, entry.ResourcePath,
		before, after, string(entry.Status), entry.FailureReason,
	)
	if err != nil {
		return &core.TransientError{Err: fmt.Errorf("audit: append: %w", err)}
	}
	return nil
}

// Range implements Reader.
func (s *PG) Range(ctx context.Context, start, end time.Time) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, at, principal_id, operation, resource_path, before, after, status, failure_reason
		FROM audit_entries
		WHERE at >= $1 AND at < $2
		ORDER BY at, id`,
		start, end,
	)
	if err != nil {
		return nil, &core.TransientError{Err: fmt.Errorf("audit: range: %w", err)}
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e             Entry
			before, after []byte
			status        string
		)
		if err := rows.Scan(&e.ID, &e.At, &e.PrincipalID, &e.Operation, &e.ResourcePath,
			&before, &after, &status, &e.FailureReason); err != nil {
			return nil, &core.TransientError{Err: fmt.Errorf("audit: scan: %w", err)}
		}
		e.Status = Status(status)
		if e.Before, err = unmarshalSnapshot(before); err != nil {
			return nil, fmt.Errorf("audit: decode before: %w", err)
		}
		if e.After, err = unmarshalSnapshot(after); err != nil {
			return nil, fmt.Errorf("audit: decode after: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.TransientError{Err: fmt.Errorf("audit: range: %w", err)}
	}
	return out, nil
}

func marshalSnapshot(fields map[string]any) ([]byte, error) {
	if fields == nil {
		return nil, nil
	}
	return json.Marshal(fields)
}

func unmarshalSnapshot(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
