package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed reads over the audit log. The table
// is append-only; this repository intentionally carries no update or delete
// statements.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `id, kind, record_id, action, old_value, new_value, actor_id, actor_name, batch_id, client_addr, occurred_at`

// ListEntries returns entries matching the filter, newest first. One extra
// row beyond the page size is requested so callers can detect a next page.
func (r *Repository) ListEntries(ctx context.Context, f Filter, limit, offset int) ([]Entry, error) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Kind != "" {
		add("kind = $%d", f.Kind)
	}
	if f.RecordID != "" {
		add("record_id = $%d", f.RecordID)
	}
	if f.ActorID != 0 {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <= $%d", f.To)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)
	limitPos := len(args)
	args = append(args, offset)
	offsetPos := len(args)
	query := fmt.Sprintf(`SELECT %s FROM audit_log%s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		entryColumns, where, limitPos, offsetPos)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		var oldJSON, newJSON []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.RecordID, &action, &oldJSON, &newJSON, &e.ActorID, &e.ActorName, &e.BatchID, &e.ClientAddr, &e.At); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		if len(oldJSON) > 0 {
			if err := json.Unmarshal(oldJSON, &e.OldValue); err != nil {
				return nil, err
			}
		}
		if len(newJSON) > 0 {
			if err := json.Unmarshal(newJSON, &e.NewValue); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Trail returns every entry for one record, oldest first.
func (r *Repository) Trail(ctx context.Context, kind, recordID string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM audit_log WHERE kind = $1 AND record_id = $2 ORDER BY occurred_at ASC, id ASC`, entryColumns), kind, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		var oldJSON, newJSON []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.RecordID, &action, &oldJSON, &newJSON, &e.ActorID, &e.ActorName, &e.BatchID, &e.ClientAddr, &e.At); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		if len(oldJSON) > 0 {
			if err := json.Unmarshal(oldJSON, &e.OldValue); err != nil {
				return nil, err
			}
		}
		if len(newJSON) > 0 {
			if err := json.Unmarshal(newJSON, &e.NewValue); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
