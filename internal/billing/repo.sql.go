package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearpath-care/clearpath/internal/approvals"
	"github.com/clearpath-care/clearpath/internal/audit"
	"github.com/clearpath-care/clearpath/internal/shared"
)

// Repository provides PostgreSQL backed persistence for billing entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `id, session_id, client_id, service_type_id, authorization_id, units, rate_per_unit, total_amount, approval_status, COALESCE(dispute_reason, ''), service_date, created_at, updated_at, voided_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.SessionID, &e.ClientID, &e.ServiceTypeID, &e.AuthorizationID, &e.Units, &e.RatePerUnit, &e.TotalAmount, &e.ApprovalStatus, &e.DisputeReason, &e.ServiceDate, &e.CreatedAt, &e.UpdatedAt, &e.VoidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// CreateEntry inserts the entry, its approval queue item, and the audit
// record in one transaction. A unique index on session_id makes generation
// idempotent per session.
func (r *Repository) CreateEntry(ctx context.Context, entry Entry, item approvals.Item, auditEntry audit.Entry) (*Entry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `INSERT INTO billing_entries (session_id, client_id, service_type_id, authorization_id, units, rate_per_unit, total_amount, approval_status, dispute_reason, service_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
RETURNING `+entryColumns,
		entry.SessionID, entry.ClientID, entry.ServiceTypeID, entry.AuthorizationID, entry.Units,
		entry.RatePerUnit, entry.TotalAmount, entry.ApprovalStatus, entry.DisputeReason, entry.ServiceDate)
	created, err := scanEntry(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, shared.ErrDuplicate
		}
		return nil, err
	}

	item.RecordID = created.ID
	if _, err := approvals.InsertItemTx(ctx, tx, item); err != nil {
		return nil, err
	}

	auditEntry.RecordID = strconv.FormatInt(created.ID, 10)
	if err := audit.InsertTx(ctx, tx, auditEntry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// GetEntry returns one entry or nil when absent.
func (r *Repository) GetEntry(ctx context.Context, id int64) (*Entry, error) {
	return scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM billing_entries WHERE id = $1`, id))
}

// GetBySession returns the entry generated for a session, or nil.
func (r *Repository) GetBySession(ctx context.Context, sessionID int64) (*Entry, error) {
	return scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM billing_entries WHERE session_id = $1`, sessionID))
}

// ListEntries returns entries matching the filter, newest first.
func (r *Repository) ListEntries(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.ClientID != 0 {
		add("client_id = $%d", filter.ClientID)
	}
	if filter.ServiceTypeID != 0 {
		add("service_type_id = $%d", filter.ServiceTypeID)
	}
	if filter.Status != "" {
		add("approval_status = $%d", filter.Status)
	}
	if !filter.From.IsZero() {
		add("service_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("service_date <= $%d", filter.To)
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

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM billing_entries%s ORDER BY service_date DESC LIMIT $%d OFFSET $%d`,
		entryColumns, where, limitPos, offsetPos), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ClientID, &e.ServiceTypeID, &e.AuthorizationID, &e.Units, &e.RatePerUnit, &e.TotalAmount, &e.ApprovalStatus, &e.DisputeReason, &e.ServiceDate, &e.CreatedAt, &e.UpdatedAt, &e.VoidedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// VoidEntry marks the entry rejected, mirrors the queue item, and writes the
// audit record together. The guard on approval_status keeps a concurrent
// payment from being voided.
func (r *Repository) VoidEntry(ctx context.Context, id int64, auditEntry audit.Entry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `UPDATE billing_entries SET approval_status = $2, voided_at = NOW(), updated_at = NOW()
WHERE id = $1 AND approval_status NOT IN ($3, $2)`,
		id, string(approvals.StatusRejected), string(approvals.StatusPaid))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: entry %d changed underneath the void", shared.ErrConcurrencyConflict, id)
	}
	_, err = tx.Exec(ctx, `UPDATE approval_items SET status = $3, decided_at = NOW() WHERE kind = $1 AND record_id = $2`,
		approvals.KindBillingEntry, id, string(approvals.StatusRejected))
	if err != nil {
		return err
	}
	if err := audit.InsertTx(ctx, tx, auditEntry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
