package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/platform/db"
)

const changeChannel = "lyceum_changes"

// Postgres implements Store over a documents table:
//
//	CREATE TABLE documents (
//	    path       TEXT PRIMARY KEY,
//	    collection TEXT NOT NULL,
//	    fields     JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE INDEX documents_collection_idx ON documents (collection, path);
//
// Change feed events travel over LISTEN/NOTIFY; the payload carries only
// the path, and listeners fetch the snapshot themselves, keeping payloads
// under the NOTIFY size limit.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps the pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

type changePayload struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// Get implements Store.
func (s *Postgres) Get(ctx context.Context, path core.Path) (*core.Document, error) {
	var (
		raw       []byte
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT fields, updated_at FROM documents WHERE path = $1`,
		path.String(),
	).Scan(&raw, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &core.Document{Path: path, Exists: false}, nil
	}
	if err != nil {
		return nil, &core.TransientError{Err: fmt.Errorf("store: get %s: %w", path, err)}
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}
	doc := core.NewDocument(path, fields)
	doc.UpdatedAt = updatedAt
	return doc, nil
}

// Put implements Store.
func (s *Postgres) Put(ctx context.Context, path core.Path, fields map[string]any) (*core.Document, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("store: encode %s: %w", path, err)
	}
	// Upsert and notification share a transaction so the NOTIFY is
	// delivered only when the write commits.
	var updatedAt time.Time
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO documents (path, collection, fields, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (path) DO UPDATE SET fields = EXCLUDED.fields, updated_at = NOW()
			RETURNING updated_at`,
			path.String(), path.Collection.String(), raw,
		).Scan(&updatedAt); err != nil {
			return err
		}
		return s.notify(ctx, tx, changePayload{Type: "put", Path: path.String()})
	})
	if err != nil {
		return nil, &core.TransientError{Err: fmt.Errorf("store: put %s: %w", path, err)}
	}
	doc := core.NewDocument(path, fields)
	doc.UpdatedAt = updatedAt
	return doc, nil
}

// Delete implements Store.
func (s *Postgres) Delete(ctx context.Context, path core.Path) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE path = $1`, path.String())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return core.ErrNotFound
		}
		return s.notify(ctx, tx, changePayload{Type: "delete", Path: path.String()})
	})
	if errors.Is(err, core.ErrNotFound) {
		return core.ErrNotFound
	}
	if err != nil {
		return &core.TransientError{Err: fmt.Errorf("store: delete %s: %w", path, err)}
	}
	return nil
}

// Query implements Store. Keyset positioning compares the sort value as
// text with the path as tiebreaker, matching the cursor's composite key.
func (s *Postgres) Query(ctx context.Context, q Query) ([]*core.Document, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT path, fields, updated_at FROM documents WHERE collection = $1`)
	args = append(args, q.Collection.String())

	for _, f := range q.Filters {
		switch f.Op {
		case FilterEq:
			args = append(args, f.Field, fmt.Sprintf("%v", f.Value))
			fmt.Fprintf(&sb, ` AND fields->>$%d = $%d`, len(args)-1, len(args))
		case FilterContains:
			args = append(args, f.Field, fmt.Sprintf("%v", f.Value))
			fmt.Fprintf(&sb, ` AND fields->$%d ? $%d`, len(args)-1, len(args))
		default:
			return nil, fmt.Errorf("%w: unsupported filter", core.ErrMalformedRequest)
		}
	}

	orderExpr := "path"
	if q.Order.Field != "" {
		args = append(args, q.Order.Field)
		orderExpr = fmt.Sprintf("fields->>$%d", len(args))
	}
	direction := "ASC"
	cmp := ">"
	if q.Order.Desc {
		direction = "DESC"
		cmp = "<"
	}

	if after, ok := q.AfterKey.(Key); ok {
		if q.Order.Field != "" {
			args = append(args, fmt.Sprintf("%v", after.Value), after.Path)
			fmt.Fprintf(&sb, ` AND (%s, path) %s ($%d, $%d)`, orderExpr, cmp, len(args)-1, len(args))
		} else {
			args = append(args, after.Path)
			fmt.Fprintf(&sb, ` AND path %s $%d`, cmp, len(args))
		}
	}

	fmt.Fprintf(&sb, ` ORDER BY %s %s, path %s`, orderExpr, direction, direction)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}
	if q.AfterKey == nil && q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&sb, ` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, &core.TransientError{Err: fmt.Errorf("store: query %s: %w", q.Collection, err)}
	}
	defer rows.Close()

	var docs []*core.Document
	for rows.Next() {
		var (
			rawPath   string
			raw       []byte
			updatedAt time.Time
		)
		if err := rows.Scan(&rawPath, &raw, &updatedAt); err != nil {
			return nil, &core.TransientError{Err: fmt.Errorf("store: scan: %w", err)}
		}
		path, err := core.ParsePath(rawPath)
		if err != nil {
			return nil, fmt.Errorf("store: stored path %q: %w", rawPath, err)
		}
		fields := make(map[string]any)
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", rawPath, err)
		}
		doc := core.NewDocument(path, fields)
		doc.UpdatedAt = updatedAt
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.TransientError{Err: fmt.Errorf("store: query %s: %w", q.Collection, err)}
	}
	return docs, nil
}

// Changes implements Store by listening on the notification channel from a
// dedicated connection and re-fetching snapshots for put events.
func (s *Postgres) Changes(ctx context.Context, collection core.Collection) (<-chan ChangeEvent, func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, &core.TransientError{Err: fmt.Errorf("store: acquire listener: %w", err)}
	}
	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		conn.Release()
		return nil, nil, &core.TransientError{Err: fmt.Errorf("store: listen: %w", err)}
	}

	feedCtx, cancelCtx := context.WithCancel(ctx)
	ch := make(chan ChangeEvent, 64)
	go func() {
		defer close(ch)
		defer conn.Release()
		for {
			notification, err := conn.Conn().WaitForNotification(feedCtx)
			if err != nil {
				return
			}
			var payload changePayload
			if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
				continue
			}
			path, err := core.ParsePath(payload.Path)
			if err != nil || path.Collection != collection {
				continue
			}
			event := ChangeEvent{Path: path, At: time.Now()}
			switch payload.Type {
			case "put":
				event.Type = ChangePut
				doc, err := s.Get(feedCtx, path)
				if err != nil || !doc.Exists {
					continue
				}
				event.Doc = doc
			case "delete":
				event.Type = ChangeDelete
			default:
				continue
			}
			select {
			case ch <- event:
			case <-feedCtx.Done():
				return
			}
		}
	}()
	return ch, cancelCtx, nil
}

func (s *Postgres) notify(ctx context.Context, tx pgx.Tx, payload changePayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changeChannel, string(raw))
	return err
}
