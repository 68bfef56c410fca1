package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clearpath-care/clearpath/internal/approvals"
	"github.com/clearpath-care/clearpath/internal/audit"
	"github.com/clearpath-care/clearpath/internal/authorizations"
	"github.com/clearpath-care/clearpath/internal/billing/units"
	"github.com/clearpath-care/clearpath/internal/servicetypes"
	"github.com/clearpath-care/clearpath/internal/sessions"
	"github.com/clearpath-care/clearpath/internal/shared"
)

var (
	testLogger = slog.New(slog.DiscardHandler)
	biller     = shared.Actor{ID: 5, DisplayName: "Morgan Lee", Role: "billing"}
)

type memoryEntryRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*Entry
	items  []approvals.Item
	audits []audit.Entry
}

func newMemoryEntryRepo() *memoryEntryRepo {
	return &memoryEntryRepo{nextID: 1, byID: make(map[int64]*Entry)}
}

func (m *memoryEntryRepo) CreateEntry(_ context.Context, entry Entry, item approvals.Item, auditEntry audit.Entry) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byID {
		if e.SessionID == entry.SessionID {
			return nil, shared.ErrDuplicate
		}
	}
	entry.ID = m.nextID
	m.nextID++
	entry.CreatedAt = time.Now()
	entry.UpdatedAt = entry.CreatedAt
	m.byID[entry.ID] = &entry
	item.RecordID = entry.ID
	m.items = append(m.items, item)
	m.audits = append(m.audits, auditEntry)
	copied := entry
	return &copied, nil
}

func (m *memoryEntryRepo) GetEntry(_ context.Context, id int64) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	copied := *entry
	return &copied, nil
}

func (m *memoryEntryRepo) GetBySession(_ context.Context, sessionID int64) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byID {
		if e.SessionID == sessionID {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memoryEntryRepo) ListEntries(_ context.Context, filter ListFilter) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.byID {
		if filter.Status != "" && e.ApprovalStatus != filter.Status {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (m *memoryEntryRepo) VoidEntry(_ context.Context, id int64, auditEntry audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	if entry.ApprovalStatus == string(approvals.StatusPaid) || entry.ApprovalStatus == string(approvals.StatusRejected) {
		return shared.ErrConcurrencyConflict
	}
	entry.ApprovalStatus = string(approvals.StatusRejected)
	now := time.Now()
	entry.VoidedAt = &now
	m.audits = append(m.audits, auditEntry)
	return nil
}

type staticSessions struct {
	byID map[int64]*sessions.Session
}

func (s *staticSessions) Get(_ context.Context, id int64) (*sessions.Session, error) {
	session, ok := s.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

type staticTypes struct {
	st   servicetypes.ServiceType
	rate float64
}

func (s *staticTypes) Get(_ context.Context, id int64) (*servicetypes.ServiceType, error) {
	copied := s.st
	return &copied, nil
}

func (s *staticTypes) RateFor(_ context.Context, _ int64, _ time.Time) (float64, error) {
	return s.rate, nil
}

type memoryLedger struct {
	mu    sync.Mutex
	auths map[int64]*authorizations.Authorization
}

func (m *memoryLedger) ResolveCovering(_ context.Context, clientID, serviceTypeID int64, date time.Time, needUnits int) (*authorizations.Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var fallback *authorizations.Authorization
	for _, a := range m.auths {
		if a.ClientID != clientID || a.ServiceTypeID != serviceTypeID || !a.Covers(date) {
			continue
		}
		if a.RemainingUnits() >= needUnits {
			copied := *a
			return &copied, nil
		}
		if fallback == nil {
			copied := *a
			fallback = &copied
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, shared.ErrNoActiveAuthorization
}

func (m *memoryLedger) Consume(_ context.Context, _ shared.Actor, authorizationID int64, unitCount int) (*authorizations.Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auths[authorizationID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	if a.RemainingUnits() < unitCount {
		return nil, fmt.Errorf("%w: %d remaining, %d requested", shared.ErrInsufficientUnits, a.RemainingUnits(), unitCount)
	}
	a.ConsumedUnits += unitCount
	copied := *a
	return &copied, nil
}

func (m *memoryLedger) Release(_ context.Context, _ shared.Actor, authorizationID int64, unitCount int) (*authorizations.Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auths[authorizationID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	a.ConsumedUnits -= unitCount
	copied := *a
	return &copied, nil
}

type countingMetrics struct {
	mu        sync.Mutex
	generated map[string]int
	consumed  int
}

func (c *countingMetrics) EntryGenerated(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generated == nil {
		c.generated = make(map[string]int)
	}
	c.generated[status]++
}

func (c *countingMetrics) UnitsConsumed(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumed += n
}

type fixture struct {
	repo    *memoryEntryRepo
	ledger  *memoryLedger
	metrics *countingMetrics
	svc     *Service
}

func approvedSession(id int64, billableUnits int) *sessions.Session {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &sessions.Session{
		ID:             id,
		ClientID:       11,
		EmployeeID:     3,
		ServiceTypeID:  1,
		StartAt:        start,
		EndAt:          start.Add(time.Duration(billableUnits) * 15 * time.Minute),
		BillableUnits:  billableUnits,
		ApprovalStatus: string(approvals.StatusApproved),
	}
}

func newFixture(sessionList []*sessions.Session, auths ...*authorizations.Authorization) fixture {
	repo := newMemoryEntryRepo()
	ledger := &memoryLedger{auths: make(map[int64]*authorizations.Authorization)}
	for _, a := range auths {
		ledger.auths[a.ID] = a
	}
	byID := make(map[int64]*sessions.Session)
	for _, s := range sessionList {
		byID[s.ID] = s
	}
	types := &staticTypes{
		st: servicetypes.ServiceType{
			ID:                    1,
			BillingCode:           "T1019",
			Rules:                 units.DefaultRules(),
			RequiresAuthorization: true,
			Active:                true,
		},
		rate: 9.25,
	}
	metrics := &countingMetrics{}
	svc := NewService(repo, &staticSessions{byID: byID}, types, ledger, metrics, testLogger)
	return fixture{repo: repo, ledger: ledger, metrics: metrics, svc: svc}
}

func activeGrant(id int64, authorized, consumed int) *authorizations.Authorization {
	return &authorizations.Authorization{
		ID:              id,
		ClientID:        11,
		ServiceTypeID:   1,
		AuthorizedUnits: authorized,
		ConsumedUnits:   consumed,
		StartDate:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Status:          authorizations.StatusActive,
	}
}

func TestGenerateConsumesUnitsAndFreezesAmounts(t *testing.T) {
	fx := newFixture([]*sessions.Session{approvedSession(1, 3)}, activeGrant(100, 30, 0))

	entry, err := fx.svc.Generate(context.Background(), biller, 1)
	require.NoError(t, err)
	require.Equal(t, 3, entry.Units)
	require.Equal(t, 9.25, entry.RatePerUnit)
	require.Equal(t, 27.75, entry.TotalAmount)
	require.Equal(t, string(approvals.StatusPending), entry.ApprovalStatus)
	require.NotNil(t, entry.AuthorizationID)
	require.Equal(t, int64(100), *entry.AuthorizationID)
	require.Equal(t, 3, fx.ledger.auths[100].ConsumedUnits)
	require.Equal(t, 3, fx.metrics.consumed)
	require.Equal(t, 1, fx.metrics.generated[string(approvals.StatusPending)])

	// Queue item and audit record accompany the entry.
	require.Len(t, fx.repo.items, 1)
	require.Equal(t, approvals.KindBillingEntry, fx.repo.items[0].Kind)
	require.Len(t, fx.repo.audits, 1)
}

func TestGenerateIsIdempotentPerSession(t *testing.T) {
	fx := newFixture([]*sessions.Session{approvedSession(1, 3)}, activeGrant(100, 30, 0))

	ctx := context.Background()
	first, err := fx.svc.Generate(ctx, biller, 1)
	require.NoError(t, err)
	second, err := fx.svc.Generate(ctx, biller, 1)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// Units were consumed exactly once.
	require.Equal(t, 3, fx.ledger.auths[100].ConsumedUnits)
	require.Len(t, fx.repo.items, 1)
}

func TestGenerateExhaustedGrantProducesDisputedEntry(t *testing.T) {
	// 2 remaining, 3 requested: the entry is created as disputed and the
	// counter stays put.
	fx := newFixture([]*sessions.Session{approvedSession(1, 3)}, activeGrant(100, 32, 30))

	entry, err := fx.svc.Generate(context.Background(), biller, 1)
	require.NoError(t, err)
	require.Equal(t, string(approvals.StatusDisputed), entry.ApprovalStatus)
	require.Equal(t, "authorization exhausted", entry.DisputeReason)
	require.Nil(t, entry.AuthorizationID)
	require.Equal(t, 30, fx.ledger.auths[100].ConsumedUnits)
	require.Equal(t, 1, fx.metrics.generated[string(approvals.StatusDisputed)])
}

func TestGenerateNoCoverageProducesDisputedEntry(t *testing.T) {
	fx := newFixture([]*sessions.Session{approvedSession(1, 3)})

	entry, err := fx.svc.Generate(context.Background(), biller, 1)
	require.NoError(t, err)
	require.Equal(t, string(approvals.StatusDisputed), entry.ApprovalStatus)
	require.Equal(t, "no active authorization", entry.DisputeReason)
}

func TestGenerateZeroUnitSessionProducesDisputedEntry(t *testing.T) {
	fx := newFixture([]*sessions.Session{approvedSession(1, 0)}, activeGrant(100, 30, 0))

	entry, err := fx.svc.Generate(context.Background(), biller, 1)
	require.NoError(t, err)
	require.Equal(t, string(approvals.StatusDisputed), entry.ApprovalStatus)
	require.Equal(t, "session has zero billable units", entry.DisputeReason)
	require.Equal(t, 0, fx.ledger.auths[100].ConsumedUnits)
}

func TestGenerateRejectsUnapprovedSession(t *testing.T) {
	pending := approvedSession(1, 3)
	pending.ApprovalStatus = string(approvals.StatusPending)
	fx := newFixture([]*sessions.Session{pending}, activeGrant(100, 30, 0))

	_, err := fx.svc.Generate(context.Background(), biller, 1)
	require.ErrorIs(t, err, shared.ErrIllegalTransition)
	require.Empty(t, fx.repo.items)
}

func TestGenerateBatchCountsOutcomes(t *testing.T) {
	pending := approvedSession(4, 2)
	pending.ApprovalStatus = string(approvals.StatusPending)
	fx := newFixture([]*sessions.Session{
		approvedSession(1, 3),
		approvedSession(2, 2),
		approvedSession(3, 0),
		pending,
	}, activeGrant(100, 5, 0))

	result, err := fx.svc.GenerateBatch(context.Background(), biller, []int64{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, 2, result.Generated)
	require.Equal(t, 1, result.Disputed)
	require.Equal(t, 1, result.Skipped)
	require.Empty(t, result.Failed)
	require.Equal(t, 5, fx.ledger.auths[100].ConsumedUnits)
}

func TestVoidReleasesUnits(t *testing.T) {
	fx := newFixture([]*sessions.Session{approvedSession(1, 3)}, activeGrant(100, 30, 0))

	ctx := context.Background()
	entry, err := fx.svc.Generate(ctx, biller, 1)
	require.NoError(t, err)
	require.Equal(t, 3, fx.ledger.auths[100].ConsumedUnits)

	require.NoError(t, fx.svc.Void(ctx, biller, entry.ID, "duplicate visit record"))
	require.Equal(t, 0, fx.ledger.auths[100].ConsumedUnits)

	voided, err := fx.svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, string(approvals.StatusRejected), voided.ApprovalStatus)
	require.NotNil(t, voided.VoidedAt)
}

func TestVoidRequiresReasonAndRefusesPaid(t *testing.T) {
	fx := newFixture([]*sessions.Session{approvedSession(1, 3)}, activeGrant(100, 30, 0))

	ctx := context.Background()
	entry, err := fx.svc.Generate(ctx, biller, 1)
	require.NoError(t, err)

	err = fx.svc.Void(ctx, biller, entry.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	fx.repo.byID[entry.ID].ApprovalStatus = string(approvals.StatusPaid)
	err = fx.svc.Void(ctx, biller, entry.ID, "late void")
	require.ErrorIs(t, err, shared.ErrIllegalTransition)
	require.Equal(t, 3, fx.ledger.auths[100].ConsumedUnits)
}
