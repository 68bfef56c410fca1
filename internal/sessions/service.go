package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clearpath-care/clearpath/internal/approvals"
	"github.com/clearpath-care/clearpath/internal/audit"
	"github.com/clearpath-care/clearpath/internal/billing/units"
	"github.com/clearpath-care/clearpath/internal/servicetypes"
	"github.com/clearpath-care/clearpath/internal/shared"
)

// RepositoryPort defines data access for sessions. CreateSession persists the
// session, its approval queue entry, and the audit record in one transaction.
type RepositoryPort interface {
	CreateSession(ctx context.Context, session Session, item approvals.Item, entry audit.Entry) (*Session, error)
	GetSession(ctx context.Context, id int64) (*Session, error)
	ListSessions(ctx context.Context, filter ListFilter) ([]Session, error)
	UpdateSession(ctx context.Context, session Session, entry audit.Entry) error
	UnitsOnDay(ctx context.Context, clientID, serviceTypeID int64, day time.Time) (int, error)
}

// TypesPort resolves service type definitions.
type TypesPort interface {
	Get(ctx context.Context, id int64) (*servicetypes.ServiceType, error)
}

// Service handles session submission. Unit conversion happens exactly once
// here, at submission time, and the result is stored on the session.
type Service struct {
	repo   RepositoryPort
	types  TypesPort
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, types TypesPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, types: types, logger: logger}
}

// Submit records a delivered session and queues it for supervisor approval.
// Sessions that round to zero units are kept and flagged for review, never
// dropped. Sessions that push the client past the type's daily unit cap are
// flagged but their units are not clipped.
func (s *Service) Submit(ctx context.Context, actor shared.Actor, input SubmitInput) (*Session, error) {
	if input.Narrative == "" {
		return nil, fmt.Errorf("%w: narrative required", shared.ErrValidation)
	}
	if input.StartAt.IsZero() || input.EndAt.IsZero() {
		return nil, fmt.Errorf("%w: start and end times required", shared.ErrValidation)
	}
	if !input.EndAt.After(input.StartAt) {
		return nil, fmt.Errorf("%w: end time must be after start time", shared.ErrValidation)
	}

	st, err := s.types.Get(ctx, input.ServiceTypeID)
	if err != nil {
		return nil, err
	}
	if !st.Active {
		return nil, fmt.Errorf("%w: service type %q is inactive", shared.ErrValidation, st.BillingCode)
	}

	duration := input.EndAt.Sub(input.StartAt).Minutes()
	billable, err := units.UnitsFor(duration, st.Rules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}

	overCap := false
	if st.MaxDailyUnits != nil {
		already, err := s.repo.UnitsOnDay(ctx, input.ClientID, input.ServiceTypeID, input.StartAt)
		if err != nil {
			return nil, err
		}
		overCap = units.ExceedsDailyCap(already, billable, st.MaxDailyUnits)
	}

	now := time.Now()
	session := Session{
		ClientID:        input.ClientID,
		EmployeeID:      actor.ID,
		ServiceTypeID:   input.ServiceTypeID,
		StartAt:         input.StartAt,
		EndAt:           input.EndAt,
		DurationMinutes: duration,
		BillableUnits:   billable,
		Narrative:       input.Narrative,
		ApprovalStatus:  string(approvals.StatusPending),
		NeedsReview:     billable == 0,
		OverDailyCap:    overCap,
	}
	item := approvals.Item{
		Kind:        approvals.KindSessionNote,
		Status:      approvals.StatusPending,
		OwnerID:     actor.ID,
		OwnerName:   actor.DisplayName,
		Summary:     fmt.Sprintf("%s session, %.0f min, %d units", st.BillingCode, duration, billable),
		SubmittedAt: now,
	}
	entry := audit.Entry{
		Kind:   "session",
		Action: audit.ActionInsert,
		NewValue: map[string]any{
			"client_id":        input.ClientID,
			"service_type_id":  input.ServiceTypeID,
			"duration_minutes": duration,
			"billable_units":   billable,
			"needs_review":     billable == 0,
			"over_daily_cap":   overCap,
		},
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		ClientAddr: actor.RemoteAddr,
		At:         now,
	}

	created, err := s.repo.CreateSession(ctx, session, item, entry)
	if err != nil {
		return nil, err
	}
	s.logger.Info("session submitted",
		slog.Int64("session_id", created.ID),
		slog.Int64("client_id", created.ClientID),
		slog.Float64("duration_minutes", duration),
		slog.Int("billable_units", billable),
		slog.Bool("needs_review", created.NeedsReview),
		slog.Bool("over_daily_cap", overCap))
	return created, nil
}

// Amend edits a session that is still pending or sent back for revision.
// Changed times trigger a fresh unit conversion against the type's current
// rules.
func (s *Service) Amend(ctx context.Context, actor shared.Actor, id int64, input AmendInput) (*Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.EmployeeID != actor.ID {
		return nil, fmt.Errorf("%w: only the submitting staff member may amend", shared.ErrUnauthorized)
	}
	switch session.ApprovalStatus {
	case string(approvals.StatusPending), string(approvals.StatusRevisionRequested):
	default:
		return nil, fmt.Errorf("%w: session is %s", shared.ErrIllegalTransition, session.ApprovalStatus)
	}

	old := map[string]any{
		"start_at":       session.StartAt,
		"end_at":         session.EndAt,
		"billable_units": session.BillableUnits,
	}
	if input.Narrative != "" {
		session.Narrative = input.Narrative
	}
	if !input.StartAt.IsZero() {
		session.StartAt = input.StartAt
	}
	if !input.EndAt.IsZero() {
		session.EndAt = input.EndAt
	}
	if !session.EndAt.After(session.StartAt) {
		return nil, fmt.Errorf("%w: end time must be after start time", shared.ErrValidation)
	}

	st, err := s.types.Get(ctx, session.ServiceTypeID)
	if err != nil {
		return nil, err
	}
	session.DurationMinutes = session.EndAt.Sub(session.StartAt).Minutes()
	billable, err := units.UnitsFor(session.DurationMinutes, st.Rules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	session.BillableUnits = billable
	session.NeedsReview = billable == 0

	err = s.repo.UpdateSession(ctx, *session, audit.Entry{
		Kind:     "session",
		RecordID: fmt.Sprintf("%d", id),
		Action:   audit.ActionUpdate,
		OldValue: old,
		NewValue: map[string]any{
			"start_at":       session.StartAt,
			"end_at":         session.EndAt,
			"billable_units": session.BillableUnits,
		},
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		ClientAddr: actor.RemoteAddr,
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns one session.
func (s *Service) Get(ctx context.Context, id int64) (*Session, error) {
	session, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, shared.ErrNotFound
	}
	return session, nil
}

// List returns sessions matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Session, error) {
	return s.repo.ListSessions(ctx, filter)
}
