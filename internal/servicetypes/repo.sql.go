package servicetypes

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearpath-care/clearpath/internal/audit"
	"github.com/clearpath-care/clearpath/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateServiceType inserts the service type, its initial rate row, and the
// audit record in one transaction.
func (r *Repository) CreateServiceType(ctx context.Context, input CreateInput, entry audit.Entry) (*ServiceType, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := time.Now()
	var id int64
	err = tx.QueryRow(ctx, `INSERT INTO service_types (billing_code, name, unit_increment_minutes, minimum_billable_minutes, rounding_threshold_minutes, max_daily_units, requires_authorization, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $8) RETURNING id`,
		input.BillingCode, input.Name, input.Rules.IncrementMinutes, input.Rules.MinimumBillableMinutes, input.Rules.RoundingThresholdMinutes, input.MaxDailyUnits, input.RequiresAuthorization, now).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, shared.ErrDuplicate
		}
		return nil, err
	}
	_, err = tx.Exec(ctx, `INSERT INTO service_type_rates (service_type_id, rate_per_unit, effective_from, created_at)
VALUES ($1, $2, $3, $4)`, id, input.RatePerUnit, input.EffectiveFrom, now)
	if err != nil {
		return nil, err
	}
	entry.RecordID = strconv.FormatInt(id, 10)
	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &ServiceType{
		ID:                    id,
		BillingCode:           input.BillingCode,
		Name:                  input.Name,
		Rules:                 input.Rules,
		MaxDailyUnits:         input.MaxDailyUnits,
		RequiresAuthorization: input.RequiresAuthorization,
		Active:                true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

const serviceTypeColumns = `id, billing_code, name, unit_increment_minutes, minimum_billable_minutes, rounding_threshold_minutes, max_daily_units, requires_authorization, active, created_at, updated_at`

func scanServiceType(row pgx.Row) (*ServiceType, error) {
	var st ServiceType
	err := row.Scan(&st.ID, &st.BillingCode, &st.Name, &st.Rules.IncrementMinutes, &st.Rules.MinimumBillableMinutes, &st.Rules.RoundingThresholdMinutes, &st.MaxDailyUnits, &st.RequiresAuthorization, &st.Active, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// GetServiceType returns one service type or nil when absent.
func (r *Repository) GetServiceType(ctx context.Context, id int64) (*ServiceType, error) {
	return scanServiceType(r.pool.QueryRow(ctx, `SELECT `+serviceTypeColumns+` FROM service_types WHERE id = $1`, id))
}

// GetByBillingCode returns the service type carrying the given code.
func (r *Repository) GetByBillingCode(ctx context.Context, code string) (*ServiceType, error) {
	return scanServiceType(r.pool.QueryRow(ctx, `SELECT `+serviceTypeColumns+` FROM service_types WHERE billing_code = $1`, code))
}

// ListServiceTypes returns the catalog.
func (r *Repository) ListServiceTypes(ctx context.Context, activeOnly bool) ([]ServiceType, error) {
	query := `SELECT ` + serviceTypeColumns + ` FROM service_types ORDER BY billing_code`
	if activeOnly {
		query = `SELECT ` + serviceTypeColumns + ` FROM service_types WHERE active ORDER BY billing_code`
	}
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var types []ServiceType
	for rows.Next() {
		var st ServiceType
		if err := rows.Scan(&st.ID, &st.BillingCode, &st.Name, &st.Rules.IncrementMinutes, &st.Rules.MinimumBillableMinutes, &st.Rules.RoundingThresholdMinutes, &st.MaxDailyUnits, &st.RequiresAuthorization, &st.Active, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		types = append(types, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return types, nil
}

// UpdateServiceType updates mutable fields and the audit record together.
func (r *Repository) UpdateServiceType(ctx context.Context, id int64, input UpdateInput, entry audit.Entry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `UPDATE service_types SET name = $2, unit_increment_minutes = $3, minimum_billable_minutes = $4, rounding_threshold_minutes = $5, max_daily_units = $6, active = $7, updated_at = NOW() WHERE id = $1`,
		id, input.Name, input.Rules.IncrementMinutes, input.Rules.MinimumBillableMinutes, input.Rules.RoundingThresholdMinutes, input.MaxDailyUnits, input.Active)
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

// InsertRate appends a new effective-dated rate row and its audit record in
// one transaction.
func (r *Repository) InsertRate(ctx context.Context, serviceTypeID int64, ratePerUnit float64, effectiveFrom time.Time, entry audit.Entry) (*Rate, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := time.Now()
	var id int64
	err = tx.QueryRow(ctx, `INSERT INTO service_type_rates (service_type_id, rate_per_unit, effective_from, created_at)
VALUES ($1, $2, $3, $4) RETURNING id`, serviceTypeID, ratePerUnit, effectiveFrom, now).Scan(&id)
	if err != nil {
		return nil, err
	}
	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &Rate{ID: id, ServiceTypeID: serviceTypeID, RatePerUnit: ratePerUnit, EffectiveFrom: effectiveFrom, CreatedAt: now}, nil
}

// ResolveRate picks the rate row effective at the given time.
func (r *Repository) ResolveRate(ctx context.Context, serviceTypeID int64, asOf time.Time) (float64, error) {
	var rate float64
	err := r.pool.QueryRow(ctx, `SELECT rate_per_unit FROM service_type_rates
WHERE service_type_id = $1 AND effective_from <= $2
ORDER BY effective_from DESC LIMIT 1`, serviceTypeID, asOf).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return rate, nil
}

// HasBilledEntries reports whether any billing entry references the type.
func (r *Repository) HasBilledEntries(ctx context.Context, serviceTypeID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM billing_entries WHERE service_type_id = $1)`, serviceTypeID).Scan(&exists)
	return exists, err
}
