package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clearpath-care/clearpath/internal/approvals"
	"github.com/clearpath-care/clearpath/internal/audit"
	"github.com/clearpath-care/clearpath/internal/authorizations"
	"github.com/clearpath-care/clearpath/internal/servicetypes"
	"github.com/clearpath-care/clearpath/internal/sessions"
	"github.com/clearpath-care/clearpath/internal/shared"
)

// RepositoryPort defines data access for billing entries. CreateEntry
// persists the entry, its approval queue item, and the audit record in one
// transaction.
type RepositoryPort interface {
	CreateEntry(ctx context.Context, entry Entry, item approvals.Item, auditEntry audit.Entry) (*Entry, error)
	GetEntry(ctx context.Context, id int64) (*Entry, error)
	GetBySession(ctx context.Context, sessionID int64) (*Entry, error)
	ListEntries(ctx context.Context, filter ListFilter) ([]Entry, error)
	VoidEntry(ctx context.Context, id int64, auditEntry audit.Entry) error
}

// SessionsPort resolves sessions to bill.
type SessionsPort interface {
	Get(ctx context.Context, id int64) (*sessions.Session, error)
}

// TypesPort resolves the type and its rate effective on the service date.
type TypesPort interface {
	Get(ctx context.Context, id int64) (*servicetypes.ServiceType, error)
	RateFor(ctx context.Context, serviceTypeID int64, asOf time.Time) (float64, error)
}

// LedgerPort is the authorization ledger. Unit consumption goes through this
// port only; billing never touches the consumed counters directly.
type LedgerPort interface {
	ResolveCovering(ctx context.Context, clientID, serviceTypeID int64, date time.Time, needUnits int) (*authorizations.Authorization, error)
	Consume(ctx context.Context, actor shared.Actor, authorizationID int64, unitCount int) (*authorizations.Authorization, error)
	Release(ctx context.Context, actor shared.Actor, authorizationID int64, unitCount int) (*authorizations.Authorization, error)
}

// MetricsPort records billing throughput.
type MetricsPort interface {
	EntryGenerated(status string)
	UnitsConsumed(n int)
}

// Service turns approved sessions into billing entries.
type Service struct {
	repo     RepositoryPort
	sessions SessionsPort
	types    TypesPort
	ledger   LedgerPort
	metrics  MetricsPort
	logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, sessionsPort SessionsPort, types TypesPort, ledger LedgerPort, metrics MetricsPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, sessions: sessionsPort, types: types, ledger: ledger, metrics: metrics, logger: logger}
}

// Generate produces the billing entry for an approved session. The call is
// idempotent per session. When authorization coverage is missing or the
// grant cannot absorb the units, the entry is still created, as DISPUTED
// with the failure reason, so no delivered care silently disappears from
// billing.
func (s *Service) Generate(ctx context.Context, actor shared.Actor, sessionID int64) (*Entry, error) {
	if existing, err := s.repo.GetBySession(ctx, sessionID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ApprovalStatus != string(approvals.StatusApproved) {
		return nil, fmt.Errorf("%w: session %d is %s, only approved sessions are billable", shared.ErrIllegalTransition, sessionID, session.ApprovalStatus)
	}

	st, err := s.types.Get(ctx, session.ServiceTypeID)
	if err != nil {
		return nil, err
	}
	rate, err := s.types.RateFor(ctx, session.ServiceTypeID, session.StartAt)
	if err != nil {
		return nil, err
	}

	entry := Entry{
		SessionID:     sessionID,
		ClientID:      session.ClientID,
		ServiceTypeID: session.ServiceTypeID,
		Units:         session.BillableUnits,
		RatePerUnit:   rate,
		TotalAmount:   rate * float64(session.BillableUnits),
		ServiceDate:   session.StartAt,
	}

	disputeReason := ""
	switch {
	case session.BillableUnits == 0:
		disputeReason = "session has zero billable units"
	case st.RequiresAuthorization:
		auth, err := s.ledger.ResolveCovering(ctx, session.ClientID, session.ServiceTypeID, session.StartAt, session.BillableUnits)
		if errors.Is(err, shared.ErrNoActiveAuthorization) {
			disputeReason = "no active authorization"
		} else if err != nil {
			return nil, err
		} else {
			_, err := s.ledger.Consume(ctx, actor, auth.ID, session.BillableUnits)
			switch {
			case errors.Is(err, shared.ErrInsufficientUnits), errors.Is(err, shared.ErrNoActiveAuthorization):
				disputeReason = "authorization exhausted"
			case err != nil:
				return nil, err
			default:
				entry.AuthorizationID = &auth.ID
				if s.metrics != nil {
					s.metrics.UnitsConsumed(session.BillableUnits)
				}
			}
		}
	}

	status := approvals.StatusPending
	if disputeReason != "" {
		status = approvals.StatusDisputed
		entry.DisputeReason = disputeReason
	}
	entry.ApprovalStatus = string(status)

	now := time.Now()
	item := approvals.Item{
		Kind:        approvals.KindBillingEntry,
		Status:      status,
		OwnerID:     session.EmployeeID,
		OwnerName:   actor.DisplayName,
		Summary:     fmt.Sprintf("%s, %d units @ %.2f", st.BillingCode, entry.Units, rate),
		SubmittedAt: now,
	}
	auditEntry := audit.Entry{
		Kind:   "billing_entry",
		Action: audit.ActionInsert,
		NewValue: map[string]any{
			"session_id":     sessionID,
			"units":          entry.Units,
			"rate_per_unit":  rate,
			"total_amount":   entry.TotalAmount,
			"status":         string(status),
			"dispute_reason": disputeReason,
		},
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		ClientAddr: actor.RemoteAddr,
		At:         now,
	}

	created, err := s.repo.CreateEntry(ctx, entry, item, auditEntry)
	if err != nil {
		if errors.Is(err, shared.ErrDuplicate) {
			// Another generator won the race for this session.
			return s.repo.GetBySession(ctx, sessionID)
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.EntryGenerated(string(status))
	}
	s.logger.Info("billing entry generated",
		slog.Int64("entry_id", created.ID),
		slog.Int64("session_id", sessionID),
		slog.Int("units", created.Units),
		slog.String("status", created.ApprovalStatus),
		slog.String("dispute_reason", disputeReason))
	return created, nil
}

// GenerateBatch bills many sessions concurrently. Individual failures are
// collected instead of aborting the run.
func (s *Service) GenerateBatch(ctx context.Context, actor shared.Actor, sessionIDs []int64) (BatchResult, error) {
	var result BatchResult
	results := make([]*Entry, len(sessionIDs))
	failures := make([]error, len(sessionIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range sessionIDs {
		g.Go(func() error {
			entry, err := s.Generate(ctx, actor, id)
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	for i := range sessionIDs {
		switch {
		case failures[i] != nil:
			if errors.Is(failures[i], shared.ErrIllegalTransition) {
				result.Skipped++
			} else {
				result.Failed = append(result.Failed, sessionIDs[i])
			}
		case results[i].ApprovalStatus == string(approvals.StatusDisputed):
			result.Disputed++
		default:
			result.Generated++
		}
	}
	return result, nil
}

// Void cancels an unbilled entry and releases its units back to the ledger.
func (s *Service) Void(ctx context.Context, actor shared.Actor, entryID int64, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: void reason required", shared.ErrValidation)
	}
	entry, err := s.Get(ctx, entryID)
	if err != nil {
		return err
	}
	switch entry.ApprovalStatus {
	case string(approvals.StatusPaid):
		return fmt.Errorf("%w: paid entries cannot be voided", shared.ErrIllegalTransition)
	case string(approvals.StatusRejected):
		return fmt.Errorf("%w: entry is already void", shared.ErrIllegalTransition)
	}

	err = s.repo.VoidEntry(ctx, entryID, audit.Entry{
		Kind:       "billing_entry",
		RecordID:   strconv.FormatInt(entryID, 10),
		Action:     audit.ActionDelete,
		OldValue:   map[string]any{"status": entry.ApprovalStatus},
		NewValue:   map[string]any{"status": string(approvals.StatusRejected), "reason": reason},
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		ClientAddr: actor.RemoteAddr,
	})
	if err != nil {
		return err
	}
	if entry.AuthorizationID != nil && entry.Units > 0 {
		if _, err := s.ledger.Release(ctx, actor, *entry.AuthorizationID, entry.Units); err != nil {
			// The entry is already void; surface the release failure so an
			// operator can reconcile the ledger.
			return fmt.Errorf("entry %d voided but unit release failed: %w", entryID, err)
		}
	}
	s.logger.Info("billing entry voided",
		slog.Int64("entry_id", entryID),
		slog.String("reason", reason))
	return nil
}

// Get returns one billing entry.
func (s *Service) Get(ctx context.Context, id int64) (*Entry, error) {
	entry, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, shared.ErrNotFound
	}
	return entry, nil
}

// List returns billing entries matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	return s.repo.ListEntries(ctx, filter)
}
