package sessions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearpath-care/clearpath/internal/approvals"
	"github.com/clearpath-care/clearpath/internal/audit"
)

// Repository provides PostgreSQL backed persistence for sessions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, client_id, employee_id, service_type_id, start_at, end_at, duration_minutes, billable_units, narrative, approval_status, needs_review, over_daily_cap, created_at, updated_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.ClientID, &s.EmployeeID, &s.ServiceTypeID, &s.StartAt, &s.EndAt, &s.DurationMinutes, &s.BillableUnits, &s.Narrative, &s.ApprovalStatus, &s.NeedsReview, &s.OverDailyCap, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// CreateSession inserts the session, its approval queue entry, and the audit
// record in one transaction so a session can never exist without its queue
// entry.
func (r *Repository) CreateSession(ctx context.Context, session Session, item approvals.Item, entry audit.Entry) (*Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `INSERT INTO sessions (client_id, employee_id, service_type_id, start_at, end_at, duration_minutes, billable_units, narrative, approval_status, needs_review, over_daily_cap)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING `+sessionColumns,
		session.ClientID, session.EmployeeID, session.ServiceTypeID, session.StartAt, session.EndAt,
		session.DurationMinutes, session.BillableUnits, session.Narrative, session.ApprovalStatus,
		session.NeedsReview, session.OverDailyCap)
	created, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	item.RecordID = created.ID
	if _, err := approvals.InsertItemTx(ctx, tx, item); err != nil {
		return nil, err
	}

	entry.RecordID = strconv.FormatInt(created.ID, 10)
	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// GetSession returns one session or nil when absent.
func (r *Repository) GetSession(ctx context.Context, id int64) (*Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// ListSessions returns sessions matching the filter, newest first.
func (r *Repository) ListSessions(ctx context.Context, filter ListFilter) ([]Session, error) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.ClientID != 0 {
		add("client_id = $%d", filter.ClientID)
	}
	if filter.EmployeeID != 0 {
		add("employee_id = $%d", filter.EmployeeID)
	}
	if filter.ServiceTypeID != 0 {
		add("service_type_id = $%d", filter.ServiceTypeID)
	}
	if !filter.From.IsZero() {
		add("start_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("start_at <= $%d", filter.To)
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

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM sessions%s ORDER BY start_at DESC LIMIT $%d OFFSET $%d`,
		sessionColumns, where, limitPos, offsetPos), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.ClientID, &s.EmployeeID, &s.ServiceTypeID, &s.StartAt, &s.EndAt, &s.DurationMinutes, &s.BillableUnits, &s.Narrative, &s.ApprovalStatus, &s.NeedsReview, &s.OverDailyCap, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpdateSession rewrites the mutable fields and the audit record together.
func (r *Repository) UpdateSession(ctx context.Context, session Session, entry audit.Entry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `UPDATE sessions SET start_at = $2, end_at = $3, duration_minutes = $4, billable_units = $5, narrative = $6, needs_review = $7, updated_at = NOW()
WHERE id = $1`,
		session.ID, session.StartAt, session.EndAt, session.DurationMinutes, session.BillableUnits, session.Narrative, session.NeedsReview)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UnitsOnDay sums billable units already recorded for the client and service
// type on the calendar day containing ts.
func (r *Repository) UnitsOnDay(ctx context.Context, clientID, serviceTypeID int64, ts time.Time) (int, error) {
	dayStart := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	dayEnd := dayStart.Add(24 * time.Hour)
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(billable_units), 0) FROM sessions
WHERE client_id = $1 AND service_type_id = $2 AND start_at >= $3 AND start_at < $4 AND approval_status <> 'REJECTED'`,
		clientID, serviceTypeID, dayStart, dayEnd).Scan(&total)
	return total, err
}
