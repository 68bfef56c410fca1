package servicetypes

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/clearpath-care/clearpath/internal/audit"
	"github.com/clearpath-care/clearpath/internal/shared"
)

// RepositoryPort defines data access for service types. Mutating calls take
// the audit entry describing them and commit it in the same transaction, so
// a catalog change can never land without its audit record.
type RepositoryPort interface {
	CreateServiceType(ctx context.Context, input CreateInput, entry audit.Entry) (*ServiceType, error)
	GetServiceType(ctx context.Context, id int64) (*ServiceType, error)
	GetByBillingCode(ctx context.Context, code string) (*ServiceType, error)
	ListServiceTypes(ctx context.Context, activeOnly bool) ([]ServiceType, error)
	UpdateServiceType(ctx context.Context, id int64, input UpdateInput, entry audit.Entry) error
	InsertRate(ctx context.Context, serviceTypeID int64, ratePerUnit float64, effectiveFrom time.Time, entry audit.Entry) (*Rate, error)
	ResolveRate(ctx context.Context, serviceTypeID int64, asOf time.Time) (float64, error)
	HasBilledEntries(ctx context.Context, serviceTypeID int64) (bool, error)
}

// Service handles the service type catalog.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Create registers a new billable service type with its initial rate.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (*ServiceType, error) {
	if input.BillingCode == "" {
		return nil, fmt.Errorf("%w: billing code required", shared.ErrValidation)
	}
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name required", shared.ErrValidation)
	}
	if err := input.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if input.RatePerUnit <= 0 {
		return nil, fmt.Errorf("%w: rate per unit must be positive", shared.ErrValidation)
	}
	if input.MaxDailyUnits != nil && *input.MaxDailyUnits <= 0 {
		return nil, fmt.Errorf("%w: max daily units must be positive when set", shared.ErrValidation)
	}
	if input.EffectiveFrom.IsZero() {
		input.EffectiveFrom = time.Now()
	}
	// The repository fills RecordID once the row exists.
	st, err := s.repo.CreateServiceType(ctx, input, audit.Entry{
		Kind:       "service_type",
		Action:     audit.ActionInsert,
		NewValue:   map[string]any{"billing_code": input.BillingCode, "name": input.Name, "rate_per_unit": input.RatePerUnit},
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		ClientAddr: actor.RemoteAddr,
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Update edits a service type. Rule changes are refused once units have been
// billed against the type.
func (s *Service) Update(ctx context.Context, actor shared.Actor, id int64, input UpdateInput) error {
	existing, err := s.repo.GetServiceType(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return shared.ErrNotFound
	}
	if err := input.Rules.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if input.Rules != existing.Rules {
		billed, err := s.repo.HasBilledEntries(ctx, id)
		if err != nil {
			return err
		}
		if billed {
			return fmt.Errorf("%w: billing rules are frozen once entries exist", shared.ErrValidation)
		}
	}
	return s.repo.UpdateServiceType(ctx, id, input, audit.Entry{
		Kind:       "service_type",
		RecordID:   strconv.FormatInt(id, 10),
		Action:     audit.ActionUpdate,
		OldValue:   map[string]any{"name": existing.Name, "active": existing.Active},
		NewValue:   map[string]any{"name": input.Name, "active": input.Active},
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		ClientAddr: actor.RemoteAddr,
	})
}

// ChangeRate appends a new effective-dated rate row. Past rows are never
// touched so historical billing entries keep their original rate.
func (s *Service) ChangeRate(ctx context.Context, actor shared.Actor, serviceTypeID int64, ratePerUnit float64, effectiveFrom time.Time) (*Rate, error) {
	if ratePerUnit <= 0 {
		return nil, fmt.Errorf("%w: rate per unit must be positive", shared.ErrValidation)
	}
	existing, err := s.repo.GetServiceType(ctx, serviceTypeID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, shared.ErrNotFound
	}
	if effectiveFrom.IsZero() {
		effectiveFrom = time.Now()
	}
	return s.repo.InsertRate(ctx, serviceTypeID, ratePerUnit, effectiveFrom, audit.Entry{
		Kind:       "service_type",
		RecordID:   strconv.FormatInt(serviceTypeID, 10),
		Action:     audit.ActionUpdate,
		NewValue:   map[string]any{"rate_per_unit": ratePerUnit, "effective_from": effectiveFrom},
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		ClientAddr: actor.RemoteAddr,
	})
}

// Get returns one service type.
func (s *Service) Get(ctx context.Context, id int64) (*ServiceType, error) {
	st, err := s.repo.GetServiceType(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, shared.ErrNotFound
	}
	return st, nil
}

// List returns service types, optionally only active ones.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]ServiceType, error) {
	return s.repo.ListServiceTypes(ctx, activeOnly)
}

// RateFor resolves the rate effective at the given time.
func (s *Service) RateFor(ctx context.Context, serviceTypeID int64, asOf time.Time) (float64, error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	return s.repo.ResolveRate(ctx, serviceTypeID, asOf)
}
