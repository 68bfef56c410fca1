package approvals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearpath-care/clearpath/internal/audit"
	"github.com/clearpath-care/clearpath/internal/platform/db"
	"github.com/clearpath-care/clearpath/internal/shared"
)

// InsertItemTx enqueues an approvable item using the caller's transaction, so
// a record and its queue entry commit together. Used by the sessions and
// billing modules.
func InsertItemTx(ctx context.Context, db audit.DB, item Item) (int64, error) {
	if !ValidKind(item.Kind) {
		return 0, fmt.Errorf("%w: unknown kind %q", shared.ErrValidation, item.Kind)
	}
	status := item.Status
	if status == "" {
		status = StatusPending
	}
	submittedAt := item.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}
	var id int64
	err := db.QueryRow(ctx, `INSERT INTO approval_items (kind, record_id, status, owner_id, owner_name, summary, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		item.Kind, item.RecordID, status, item.OwnerID, item.OwnerName, item.Summary, submittedAt).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, shared.ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

// Repository provides PostgreSQL backed persistence for the approval queue.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const itemColumns = `id, kind, record_id, status, owner_id, owner_name, summary, COALESCE(supervisor_comment, ''), submitted_at, decided_at`

func scanItem(row pgx.Row) (*Item, error) {
	var item Item
	var kind, status string
	err := row.Scan(&item.ID, &kind, &item.RecordID, &status, &item.OwnerID, &item.OwnerName, &item.Summary, &item.SupervisorComment, &item.SubmittedAt, &item.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	item.Kind = ItemKind(kind)
	item.Status = Status(status)
	return &item, nil
}

// GetItem returns one queue item or nil when absent.
func (r *Repository) GetItem(ctx context.Context, ref ItemRef) (*Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM approval_items WHERE kind = $1 AND record_id = $2`, ref.Kind, ref.RecordID))
}

// ListItems returns queue items matching the filter, oldest first.
func (r *Repository) ListItems(ctx context.Context, filter ListFilter) ([]Item, error) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, 0, len(filter.Kinds))
		for _, k := range filter.Kinds {
			kinds = append(kinds, string(k))
		}
		add("kind = ANY($%d)", kinds)
	}
	if filter.OwnerID != 0 {
		add("owner_id = $%d", filter.OwnerID)
	}
	if !filter.From.IsZero() {
		add("submitted_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("submitted_at <= $%d", filter.To)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	limitPos := len(args)
	args = append(args, filter.Offset)
	offsetPos := len(args)

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM approval_items%s ORDER BY submitted_at ASC LIMIT $%d OFFSET $%d`,
		itemColumns, where, limitPos, offsetPos), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		var kind, status string
		if err := rows.Scan(&item.ID, &kind, &item.RecordID, &status, &item.OwnerID, &item.OwnerName, &item.Summary, &item.SupervisorComment, &item.SubmittedAt, &item.DecidedAt); err != nil {
			return nil, err
		}
		item.Kind = ItemKind(kind)
		item.Status = Status(status)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// ApplyBatch commits every status change and audit entry in one repeatable
// read transaction. Each update is guarded on the expected prior status so a
// concurrent reviewer cannot double-apply a decision.
func (r *Repository) ApplyBatch(ctx context.Context, changes []StatusChange, entries []audit.Entry) error {
	if len(changes) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, change := range changes {
			tag, err := tx.Exec(ctx, `UPDATE approval_items SET status = $4, supervisor_comment = NULLIF($5, ''), decided_at = $6
WHERE kind = $1 AND record_id = $2 AND status = $3`,
				change.Ref.Kind, change.Ref.RecordID, change.From, change.To, change.Comment, change.DecidedAt)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s %d changed underneath the batch", shared.ErrConcurrencyConflict, change.Ref.Kind, change.Ref.RecordID)
			}
			// Mirror the status onto the kind's own table so record reads agree
			// with the queue.
			if err := mirrorStatus(ctx, tx, change); err != nil {
				return err
			}
		}
		for _, entry := range entries {
			if err := audit.InsertTx(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func mirrorStatus(ctx context.Context, tx pgx.Tx, change StatusChange) error {
	var table string
	switch change.Ref.Kind {
	case KindSessionNote:
		table = "sessions"
	case KindTimeEntry:
		table = "time_entries"
	case KindScheduleChange:
		table = "schedule_changes"
	case KindTimeOffRequest:
		table = "time_off_requests"
	case KindBillingEntry:
		table = "billing_entries"
	default:
		return fmt.Errorf("%w: unknown kind %q", shared.ErrValidation, change.Ref.Kind)
	}
	_, err := tx.Exec(ctx, `UPDATE `+table+` SET approval_status = $2, updated_at = NOW() WHERE id = $1`, change.Ref.RecordID, change.To)
	return err
}
