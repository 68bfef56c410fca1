package authorizations

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/clearpath-care/clearpath/internal/audit"
	"github.com/clearpath-care/clearpath/internal/shared"
)

// Mutation describes one ledger change applied together with its audit entry.
type Mutation struct {
	AuthorizationID int64
	Units           int
	Entry           audit.Entry
}

// RepositoryPort defines data access for the ledger. Consume and Release are
// all-or-nothing: the consumed counter, any resulting status transition, and
// the audit entry commit in a single transaction, serialized per
// authorization row.
type RepositoryPort interface {
	CreateAuthorization(ctx context.Context, input CreateInput) (*Authorization, error)
	GetAuthorization(ctx context.Context, id int64) (*Authorization, error)
	ListCovering(ctx context.Context, clientID, serviceTypeID int64, asOf time.Time) ([]Authorization, error)
	Consume(ctx context.Context, m Mutation) (*Authorization, error)
	Release(ctx context.Context, m Mutation) (*Authorization, error)
	SetStatus(ctx context.Context, id int64, status Status, entry audit.Entry) error
	ListExpiringWithin(ctx context.Context, asOf time.Time, days int) ([]Authorization, error)
	ListHighUtilization(ctx context.Context, thresholdPercent float64) ([]Authorization, error)
	SweepExpired(ctx context.Context, asOf time.Time, actorName string) (int, error)
	SweepExhausted(ctx context.Context, actorName string) (int, error)
}

// TypesPort resolves whether a service type requires authorization.
type TypesPort interface {
	RequiresAuthorization(ctx context.Context, serviceTypeID int64) (bool, error)
}

// StatusInvalidator drops a cached status summary after a ledger mutation.
type StatusInvalidator interface {
	Invalidate(ctx context.Context, clientID, serviceTypeID int64)
}

// Service is the authorization ledger. It exclusively owns the consumed
// counters; billing requests consumption through this API only.
type Service struct {
	repo        RepositoryPort
	types       TypesPort
	invalidator StatusInvalidator
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, types TypesPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, types: types, logger: logger}
}

// SetStatusInvalidator registers the status cache. It is a setter because
// the cache wraps this service for reads.
func (s *Service) SetStatusInvalidator(inv StatusInvalidator) {
	s.invalidator = inv
}

func (s *Service) invalidateStatus(ctx context.Context, clientID, serviceTypeID int64) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, clientID, serviceTypeID)
	}
}

// Create issues a new grant.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (*Authorization, error) {
	if input.ClientID == 0 {
		return nil, fmt.Errorf("%w: client ID required", shared.ErrValidation)
	}
	if input.ServiceTypeID == 0 {
		return nil, fmt.Errorf("%w: service type ID required", shared.ErrValidation)
	}
	if input.AuthorizedUnits <= 0 {
		return nil, fmt.Errorf("%w: authorized units must be positive", shared.ErrValidation)
	}
	if input.EndDate.Before(input.StartDate) {
		return nil, fmt.Errorf("%w: end date before start date", shared.ErrValidation)
	}
	auth, err := s.repo.CreateAuthorization(ctx, input)
	if err != nil {
		return nil, err
	}
	return auth, nil
}

// Get returns one authorization.
func (s *Service) Get(ctx context.Context, id int64) (*Authorization, error) {
	auth, err := s.repo.GetAuthorization(ctx, id)
	if err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, shared.ErrNotFound
	}
	return auth, nil
}

// RemainingUnits sums remaining units across active grants covering the
// given date. When the service type requires authorization and no covering
// grant exists the call fails with ErrNoActiveAuthorization.
func (s *Service) RemainingUnits(ctx context.Context, clientID, serviceTypeID int64, asOf time.Time) (int, error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	covering, err := s.repo.ListCovering(ctx, clientID, serviceTypeID, asOf)
	if err != nil {
		return 0, err
	}
	if len(covering) == 0 {
		required, err := s.types.RequiresAuthorization(ctx, serviceTypeID)
		if err != nil {
			return 0, err
		}
		if required {
			return 0, fmt.Errorf("%w: client %d service type %d", shared.ErrNoActiveAuthorization, clientID, serviceTypeID)
		}
		return 0, nil
	}
	total := 0
	for _, auth := range covering {
		total += auth.RemainingUnits()
	}
	return total, nil
}

// ResolveCovering picks the grant that should absorb a consumption: covering
// grants ordered by end date, preferring the first with enough remaining
// units. A covering grant without capacity is still returned so the caller
// can record the exhaustion explicitly.
func (s *Service) ResolveCovering(ctx context.Context, clientID, serviceTypeID int64, date time.Time, needUnits int) (*Authorization, error) {
	covering, err := s.repo.ListCovering(ctx, clientID, serviceTypeID, date)
	if err != nil {
		return nil, err
	}
	if len(covering) == 0 {
		return nil, fmt.Errorf("%w: client %d service type %d", shared.ErrNoActiveAuthorization, clientID, serviceTypeID)
	}
	for i := range covering {
		if covering[i].RemainingUnits() >= needUnits {
			return &covering[i], nil
		}
	}
	return &covering[0], nil
}

// Consume atomically increments the consumed counter. It fails with
// ErrInsufficientUnits when the request would drive remaining below zero;
// nothing is partially applied.
func (s *Service) Consume(ctx context.Context, actor shared.Actor, authorizationID int64, unitCount int) (*Authorization, error) {
	if unitCount <= 0 {
		return nil, fmt.Errorf("%w: units must be positive", shared.ErrValidation)
	}
	auth, err := s.repo.Consume(ctx, Mutation{
		AuthorizationID: authorizationID,
		Units:           unitCount,
		Entry: audit.Entry{
			Kind:       "authorization",
			RecordID:   strconv.FormatInt(authorizationID, 10),
			Action:     audit.ActionUpdate,
			NewValue:   map[string]any{"consumed_delta": unitCount},
			ActorID:    actor.ID,
			ActorName:  actor.DisplayName,
			ClientAddr: actor.RemoteAddr,
		},
	})
	if err != nil {
		return nil, err
	}
	s.invalidateStatus(ctx, auth.ClientID, auth.ServiceTypeID)
	s.logger.Info("units consumed",
		slog.Int64("authorization_id", authorizationID),
		slog.Int("units", unitCount),
		slog.Int("remaining", auth.RemainingUnits()))
	return auth, nil
}

// Release reverses a prior consumption, used when a billed entry is voided
// or rejected after being counted.
func (s *Service) Release(ctx context.Context, actor shared.Actor, authorizationID int64, unitCount int) (*Authorization, error) {
	if unitCount <= 0 {
		return nil, fmt.Errorf("%w: units must be positive", shared.ErrValidation)
	}
	auth, err := s.repo.Release(ctx, Mutation{
		AuthorizationID: authorizationID,
		Units:           unitCount,
		Entry: audit.Entry{
			Kind:       "authorization",
			RecordID:   strconv.FormatInt(authorizationID, 10),
			Action:     audit.ActionUpdate,
			NewValue:   map[string]any{"released_delta": unitCount},
			ActorID:    actor.ID,
			ActorName:  actor.DisplayName,
			ClientAddr: actor.RemoteAddr,
		},
	})
	if err != nil {
		return nil, err
	}
	s.invalidateStatus(ctx, auth.ClientID, auth.ServiceTypeID)
	s.logger.Info("units released",
		slog.Int64("authorization_id", authorizationID),
		slog.Int("units", unitCount),
		slog.Int("remaining", auth.RemainingUnits()))
	return auth, nil
}

// UtilizationPercent returns consumed/authorized for one grant.
func (s *Service) UtilizationPercent(ctx context.Context, authorizationID int64) (float64, error) {
	auth, err := s.Get(ctx, authorizationID)
	if err != nil {
		return 0, err
	}
	return auth.UtilizationPercent(), nil
}

// Status aggregates covering grants into the reporting summary.
func (s *Service) Status(ctx context.Context, clientID, serviceTypeID int64) (StatusSummary, error) {
	now := time.Now()
	covering, err := s.repo.ListCovering(ctx, clientID, serviceTypeID, now)
	if err != nil {
		return StatusSummary{}, err
	}
	summary := StatusSummary{ClientID: clientID, ServiceTypeID: serviceTypeID}
	if len(covering) == 0 {
		required, err := s.types.RequiresAuthorization(ctx, serviceTypeID)
		if err != nil {
			return StatusSummary{}, err
		}
		if required {
			return StatusSummary{}, fmt.Errorf("%w: client %d service type %d", shared.ErrNoActiveAuthorization, clientID, serviceTypeID)
		}
		return summary, nil
	}
	for _, auth := range covering {
		summary.AuthorizedUnits += auth.AuthorizedUnits
		summary.ConsumedUnits += auth.ConsumedUnits
		summary.RemainingUnits += auth.RemainingUnits()
		if summary.NextExpiry.IsZero() || auth.EndDate.Before(summary.NextExpiry) {
			summary.NextExpiry = auth.EndDate
		}
	}
	if summary.AuthorizedUnits > 0 {
		summary.UtilizationPercent = float64(summary.ConsumedUnits) / float64(summary.AuthorizedUnits) * 100
	}
	summary.DaysUntilExpiry = int(math.Ceil(summary.NextExpiry.Sub(now).Hours() / 24))
	if summary.DaysUntilExpiry < 0 {
		summary.DaysUntilExpiry = 0
	}
	return summary, nil
}

// ExpiringWithin returns active grants ending within the given number of
// days, for the alerting report.
func (s *Service) ExpiringWithin(ctx context.Context, days int) ([]Authorization, error) {
	if days <= 0 {
		days = 30
	}
	return s.repo.ListExpiringWithin(ctx, time.Now(), days)
}

// HighUtilization returns active grants at or above the threshold.
func (s *Service) HighUtilization(ctx context.Context, thresholdPercent float64) ([]Authorization, error) {
	if thresholdPercent <= 0 {
		thresholdPercent = 80
	}
	return s.repo.ListHighUtilization(ctx, thresholdPercent)
}

// Suspend administratively suspends a grant.
func (s *Service) Suspend(ctx context.Context, actor shared.Actor, id int64, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: suspension reason required", shared.ErrValidation)
	}
	auth, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if auth.Status != StatusActive {
		return fmt.Errorf("%w: only active authorizations can be suspended", shared.ErrIllegalTransition)
	}
	err = s.repo.SetStatus(ctx, id, StatusSuspended, audit.Entry{
		Kind:       "authorization",
		RecordID:   strconv.FormatInt(id, 10),
		Action:     audit.ActionUpdate,
		OldValue:   map[string]any{"status": string(auth.Status)},
		NewValue:   map[string]any{"status": string(StatusSuspended), "reason": reason},
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		ClientAddr: actor.RemoteAddr,
	})
	if err != nil {
		return err
	}
	s.invalidateStatus(ctx, auth.ClientID, auth.ServiceTypeID)
	return nil
}

// Reactivate restores a suspended grant.
func (s *Service) Reactivate(ctx context.Context, actor shared.Actor, id int64) error {
	auth, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if auth.Status != StatusSuspended {
		return fmt.Errorf("%w: only suspended authorizations can be reactivated", shared.ErrIllegalTransition)
	}
	err = s.repo.SetStatus(ctx, id, StatusActive, audit.Entry{
		Kind:       "authorization",
		RecordID:   strconv.FormatInt(id, 10),
		Action:     audit.ActionUpdate,
		OldValue:   map[string]any{"status": string(StatusSuspended)},
		NewValue:   map[string]any{"status": string(StatusActive)},
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		ClientAddr: actor.RemoteAddr,
	})
	if err != nil {
		return err
	}
	s.invalidateStatus(ctx, auth.ClientID, auth.ServiceTypeID)
	return nil
}

// Sweep transitions overdue grants to EXPIRED and drained ones to EXHAUSTED.
// Each transition writes its audit entry in the same transaction.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	if now.IsZero() {
		now = time.Now()
	}
	expired, err := s.repo.SweepExpired(ctx, now, "system")
	if err != nil {
		return SweepResult{}, err
	}
	exhausted, err := s.repo.SweepExhausted(ctx, "system")
	if err != nil {
		return SweepResult{Expired: expired}, err
	}
	if expired > 0 || exhausted > 0 {
		s.logger.Info("authorization sweep",
			slog.Int("expired", expired),
			slog.Int("exhausted", exhausted))
	}
	return SweepResult{Expired: expired, Exhausted: exhausted}, nil
}
