package authorizations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearpath-care/clearpath/internal/audit"
	"github.com/clearpath-care/clearpath/internal/shared"
)

// lockRetries bounds retries when two transactions contend for the same
// authorization row.
const lockRetries = 3

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const authColumns = `id, client_id, service_type_id, payer_reference, authorized_units, consumed_units, start_date, end_date, status, created_at, updated_at`

// CreateAuthorization inserts a new grant in ACTIVE state.
func (r *Repository) CreateAuthorization(ctx context.Context, input CreateInput) (*Authorization, error) {
	now := time.Now()
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO authorizations (client_id, service_type_id, payer_reference, authorized_units, consumed_units, start_date, end_date, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8, $8) RETURNING id`,
		input.ClientID, input.ServiceTypeID, input.PayerReference, input.AuthorizedUnits, input.StartDate, input.EndDate, StatusActive, now).Scan(&id)
	if err != nil {
		return nil, err
	}
	return &Authorization{
		ID:              id,
		ClientID:        input.ClientID,
		ServiceTypeID:   input.ServiceTypeID,
		PayerReference:  input.PayerReference,
		AuthorizedUnits: input.AuthorizedUnits,
		StartDate:       input.StartDate,
		EndDate:         input.EndDate,
		Status:          StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func scanAuthorization(row pgx.Row) (*Authorization, error) {
	var a Authorization
	var status string
	err := row.Scan(&a.ID, &a.ClientID, &a.ServiceTypeID, &a.PayerReference, &a.AuthorizedUnits, &a.ConsumedUnits, &a.StartDate, &a.EndDate, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

// GetAuthorization returns one grant or nil when absent.
func (r *Repository) GetAuthorization(ctx context.Context, id int64) (*Authorization, error) {
	return scanAuthorization(r.pool.QueryRow(ctx, `SELECT `+authColumns+` FROM authorizations WHERE id = $1`, id))
}

func (r *Repository) listAuthorizations(ctx context.Context, query string, args ...any) ([]Authorization, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var auths []Authorization
	for rows.Next() {
		var a Authorization
		var status string
		if err := rows.Scan(&a.ID, &a.ClientID, &a.ServiceTypeID, &a.PayerReference, &a.AuthorizedUnits, &a.ConsumedUnits, &a.StartDate, &a.EndDate, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Status = Status(status)
		auths = append(auths, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return auths, nil
}

// ListCovering returns active grants whose date range contains asOf, earliest
// expiry first.
func (r *Repository) ListCovering(ctx context.Context, clientID, serviceTypeID int64, asOf time.Time) ([]Authorization, error) {
	return r.listAuthorizations(ctx, `SELECT `+authColumns+` FROM authorizations
WHERE client_id = $1 AND service_type_id = $2 AND status = $3 AND start_date <= $4 AND end_date >= $4
ORDER BY end_date ASC`, clientID, serviceTypeID, StatusActive, asOf)
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure or deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// Consume atomically increments the consumed counter under a row lock. The
// counter update, any exhaustion transition, and the audit entry commit
// together or not at all.
func (r *Repository) Consume(ctx context.Context, m Mutation) (*Authorization, error) {
	return r.mutate(ctx, m, false)
}

// Release atomically decrements the consumed counter under a row lock.
func (r *Repository) Release(ctx context.Context, m Mutation) (*Authorization, error) {
	return r.mutate(ctx, m, true)
}

func (r *Repository) mutate(ctx context.Context, m Mutation, release bool) (*Authorization, error) {
	var lastErr error
	for attempt := 0; attempt <= lockRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
			}
		}
		auth, err := r.mutateOnce(ctx, m, release)
		if err == nil {
			return auth, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", shared.ErrConcurrencyConflict, lastErr)
}

func (r *Repository) mutateOnce(ctx context.Context, m Mutation, release bool) (*Authorization, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	auth, err := scanAuthorization(tx.QueryRow(ctx, `SELECT `+authColumns+` FROM authorizations WHERE id = $1 FOR UPDATE`, m.AuthorizationID))
	if err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, shared.ErrNotFound
	}

	oldConsumed := auth.ConsumedUnits
	oldStatus := auth.Status
	if release {
		if m.Units > auth.ConsumedUnits {
			return nil, fmt.Errorf("%w: cannot release %d units, only %d consumed", shared.ErrValidation, m.Units, auth.ConsumedUnits)
		}
		auth.ConsumedUnits -= m.Units
		if auth.Status == StatusExhausted && auth.RemainingUnits() > 0 {
			auth.Status = StatusActive
		}
	} else {
		if auth.Status != StatusActive {
			return nil, fmt.Errorf("%w: authorization %d is %s", shared.ErrNoActiveAuthorization, auth.ID, auth.Status)
		}
		if auth.ConsumedUnits+m.Units > auth.AuthorizedUnits {
			return nil, fmt.Errorf("%w: requested %d, remaining %d", shared.ErrInsufficientUnits, m.Units, auth.RemainingUnits())
		}
		auth.ConsumedUnits += m.Units
		if auth.RemainingUnits() == 0 {
			auth.Status = StatusExhausted
		}
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `UPDATE authorizations SET consumed_units = $2, status = $3, updated_at = $4 WHERE id = $1`,
		auth.ID, auth.ConsumedUnits, auth.Status, now)
	if err != nil {
		return nil, err
	}

	entry := m.Entry
	if entry.OldValue == nil {
		entry.OldValue = map[string]any{}
	}
	entry.OldValue["consumed_units"] = oldConsumed
	entry.OldValue["status"] = string(oldStatus)
	if entry.NewValue == nil {
		entry.NewValue = map[string]any{}
	}
	entry.NewValue["consumed_units"] = auth.ConsumedUnits
	entry.NewValue["status"] = string(auth.Status)
	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	auth.UpdatedAt = now
	return auth, nil
}

// SetStatus applies an administrative status change together with its audit
// entry.
func (r *Repository) SetStatus(ctx context.Context, id int64, status Status, entry audit.Entry) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	tag, err := tx.Exec(ctx, `UPDATE authorizations SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListExpiringWithin returns active grants ending within the window.
func (r *Repository) ListExpiringWithin(ctx context.Context, asOf time.Time, days int) ([]Authorization, error) {
	cutoff := asOf.AddDate(0, 0, days)
	return r.listAuthorizations(ctx, `SELECT `+authColumns+` FROM authorizations
WHERE status = $1 AND end_date >= $2 AND end_date <= $3 ORDER BY end_date ASC`, StatusActive, asOf, cutoff)
}

// ListHighUtilization returns active grants at or above the threshold.
func (r *Repository) ListHighUtilization(ctx context.Context, thresholdPercent float64) ([]Authorization, error) {
	return r.listAuthorizations(ctx, `SELECT `+authColumns+` FROM authorizations
WHERE status = $1 AND authorized_units > 0 AND consumed_units::float / authorized_units * 100 >= $2
ORDER BY consumed_units::float / authorized_units DESC`, StatusActive, thresholdPercent)
}

func (r *Repository) sweep(ctx context.Context, condition string, newStatus Status, actorName string, args ...any) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	rows, err := tx.Query(ctx, `UPDATE authorizations SET status = '`+string(newStatus)+`', updated_at = NOW()
WHERE status = 'ACTIVE' AND `+condition+` RETURNING id`, args...)
	if err != nil {
		return 0, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, id := range ids {
		err := audit.InsertTx(ctx, tx, audit.Entry{
			Kind:      "authorization",
			RecordID:  fmt.Sprintf("%d", id),
			Action:    audit.ActionUpdate,
			OldValue:  map[string]any{"status": string(StatusActive)},
			NewValue:  map[string]any{"status": string(newStatus)},
			ActorName: actorName,
		})
		if err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// SweepExpired transitions overdue active grants to EXPIRED.
func (r *Repository) SweepExpired(ctx context.Context, asOf time.Time, actorName string) (int, error) {
	return r.sweep(ctx, "end_date < $1", StatusExpired, actorName, asOf)
}

// SweepExhausted transitions drained active grants to EXHAUSTED.
func (r *Repository) SweepExhausted(ctx context.Context, actorName string) (int, error) {
	return r.sweep(ctx, "consumed_units >= authorized_units", StatusExhausted, actorName)
}
