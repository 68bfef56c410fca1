package approvals

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clearpath-care/clearpath/internal/audit"
	"github.com/clearpath-care/clearpath/internal/shared"
)

var (
	testLogger = slog.New(slog.DiscardHandler)
	reviewer   = shared.Actor{ID: 7, DisplayName: "Dana Reyes", Role: "supervisor"}
)

type memoryQueueRepo struct {
	mu     sync.Mutex
	items  map[ItemRef]*Item
	audits []audit.Entry
}

func newMemoryQueueRepo(items ...Item) *memoryQueueRepo {
	repo := &memoryQueueRepo{items: make(map[ItemRef]*Item)}
	for i := range items {
		item := items[i]
		repo.items[ItemRef{Kind: item.Kind, RecordID: item.RecordID}] = &item
	}
	return repo
}

func (m *memoryQueueRepo) GetItem(_ context.Context, ref ItemRef) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[ref]
	if !ok {
		return nil, nil
	}
	copied := *item
	return &copied, nil
}

func (m *memoryQueueRepo) ListItems(_ context.Context, filter ListFilter) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Item
	for _, item := range m.items {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.OwnerID != 0 && item.OwnerID != filter.OwnerID {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (m *memoryQueueRepo) ApplyBatch(_ context.Context, changes []StatusChange, entries []audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, change := range changes {
		item, ok := m.items[change.Ref]
		if !ok || item.Status != change.From {
			return shared.ErrConcurrencyConflict
		}
	}
	for _, change := range changes {
		item := m.items[change.Ref]
		item.Status = change.To
		item.SupervisorComment = change.Comment
		decidedAt := change.DecidedAt
		item.DecidedAt = &decidedAt
	}
	m.audits = append(m.audits, entries...)
	return nil
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingMetrics) ApprovalProcessed(kind, action string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[kind+"/"+action]++
}

func pendingItem(kind ItemKind, recordID, ownerID int64) Item {
	return Item{
		Kind:        kind,
		RecordID:    recordID,
		Status:      StatusPending,
		OwnerID:     ownerID,
		OwnerName:   "Sam Ortiz",
		Summary:     "test item",
		SubmittedAt: time.Now().Add(-time.Hour),
	}
}

func TestReviewBatchApprovesAll(t *testing.T) {
	repo := newMemoryQueueRepo(
		pendingItem(KindSessionNote, 1, 3),
		pendingItem(KindTimeEntry, 2, 3),
	)
	metrics := &countingMetrics{}
	svc := NewService(repo, metrics, testLogger, 0)

	result, err := svc.ReviewBatch(context.Background(), reviewer, BatchInput{
		Refs:      []ItemRef{{KindSessionNote, 1}, {KindTimeEntry, 2}},
		Action:    ActionApprove,
		Signature: "Dana Reyes",
	})
	require.NoError(t, err)
	require.True(t, result.Applied)

	for _, ref := range []ItemRef{{KindSessionNote, 1}, {KindTimeEntry, 2}} {
		item, _ := repo.GetItem(context.Background(), ref)
		require.Equal(t, StatusApproved, item.Status)
		require.NotNil(t, item.DecidedAt)
	}
	require.Equal(t, 1, metrics.counts["session_note/APPROVE"])
	require.Equal(t, 1, metrics.counts["time_entry/APPROVE"])
}

func TestReviewBatchIsAtomic(t *testing.T) {
	valid := pendingItem(KindSessionNote, 1, 3)
	terminal := pendingItem(KindTimeEntry, 2, 3)
	terminal.Status = StatusRejected
	repo := newMemoryQueueRepo(valid, terminal)
	svc := NewService(repo, nil, testLogger, 0)

	result, err := svc.ReviewBatch(context.Background(), reviewer, BatchInput{
		Refs:      []ItemRef{{KindSessionNote, 1}, {KindTimeEntry, 2}},
		Action:    ActionApprove,
		Signature: "Dana Reyes",
	})
	require.ErrorIs(t, err, shared.ErrIllegalTransition)
	require.False(t, result.Applied)
	require.False(t, result.Results[0].OK)
	require.False(t, result.Results[1].OK)

	// The valid item must be untouched.
	item, _ := repo.GetItem(context.Background(), ItemRef{KindSessionNote, 1})
	require.Equal(t, StatusPending, item.Status)
	require.Empty(t, repo.audits)
}

func TestReviewBatchSignatureMismatch(t *testing.T) {
	repo := newMemoryQueueRepo(pendingItem(KindSessionNote, 1, 3))
	svc := NewService(repo, nil, testLogger, 0)

	_, err := svc.ReviewBatch(context.Background(), reviewer, BatchInput{
		Refs:      []ItemRef{{KindSessionNote, 1}},
		Action:    ActionApprove,
		Signature: "D. Reyes",
	})
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	item, _ := repo.GetItem(context.Background(), ItemRef{KindSessionNote, 1})
	require.Equal(t, StatusPending, item.Status)
	require.Empty(t, repo.audits)
}

func TestReviewBatchRejectNeedsReason(t *testing.T) {
	repo := newMemoryQueueRepo(pendingItem(KindSessionNote, 1, 3))
	svc := NewService(repo, nil, testLogger, 0)

	_, err := svc.ReviewBatch(context.Background(), reviewer, BatchInput{
		Refs:      []ItemRef{{KindSessionNote, 1}},
		Action:    ActionReject,
		Signature: "Dana Reyes",
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	// The batch-level comment satisfies the per-item requirement.
	result, err := svc.ReviewBatch(context.Background(), reviewer, BatchInput{
		Refs:      []ItemRef{{KindSessionNote, 1}},
		Action:    ActionReject,
		Signature: "Dana Reyes",
		Comment:   "narrative does not match the schedule",
	})
	require.NoError(t, err)
	require.True(t, result.Applied)
	item, _ := repo.GetItem(context.Background(), ItemRef{KindSessionNote, 1})
	require.Equal(t, StatusRejected, item.Status)
	require.Equal(t, "narrative does not match the schedule", item.SupervisorComment)
}

func TestReviewBatchUnknownItem(t *testing.T) {
	repo := newMemoryQueueRepo(pendingItem(KindSessionNote, 1, 3))
	svc := NewService(repo, nil, testLogger, 0)

	_, err := svc.ReviewBatch(context.Background(), reviewer, BatchInput{
		Refs:      []ItemRef{{KindSessionNote, 99}},
		Action:    ActionApprove,
		Signature: "Dana Reyes",
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, repo.audits)
}

func TestReviewBatchAuditEntries(t *testing.T) {
	repo := newMemoryQueueRepo(
		pendingItem(KindSessionNote, 1, 3),
		pendingItem(KindSessionNote, 2, 3),
	)
	svc := NewService(repo, nil, testLogger, 0)

	result, err := svc.ReviewBatch(context.Background(), reviewer, BatchInput{
		Refs:      []ItemRef{{KindSessionNote, 1}, {KindSessionNote, 2}},
		Action:    ActionApprove,
		Signature: "Dana Reyes",
	})
	require.NoError(t, err)

	// Exactly one entry per item, all sharing the batch id, each recording
	// the post-call status.
	require.Len(t, repo.audits, 2)
	for _, entry := range repo.audits {
		require.Equal(t, result.BatchID, entry.BatchID)
		require.Equal(t, audit.ActionApprove, entry.Action)
		require.Equal(t, "PENDING", entry.OldValue["status"])
		require.Equal(t, "APPROVED", entry.NewValue["status"])
		require.Equal(t, reviewer.DisplayName, entry.ActorName)
	}
}

func TestResubmitOwnerOnly(t *testing.T) {
	item := pendingItem(KindSessionNote, 1, 3)
	item.Status = StatusRevisionRequested
	repo := newMemoryQueueRepo(item)
	svc := NewService(repo, nil, testLogger, 0)

	err := svc.Resubmit(context.Background(), reviewer, ItemRef{KindSessionNote, 1})
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	owner := shared.Actor{ID: 3, DisplayName: "Sam Ortiz", Role: "staff"}
	require.NoError(t, svc.Resubmit(context.Background(), owner, ItemRef{KindSessionNote, 1}))

	got, _ := repo.GetItem(context.Background(), ItemRef{KindSessionNote, 1})
	require.Equal(t, StatusPending, got.Status)
	require.Len(t, repo.audits, 1)
}

func TestResubmitOnlyFromRevisionRequested(t *testing.T) {
	repo := newMemoryQueueRepo(pendingItem(KindSessionNote, 1, 3))
	svc := NewService(repo, nil, testLogger, 0)

	owner := shared.Actor{ID: 3, DisplayName: "Sam Ortiz", Role: "staff"}
	err := svc.Resubmit(context.Background(), owner, ItemRef{KindSessionNote, 1})
	require.ErrorIs(t, err, shared.ErrIllegalTransition)
}

func TestAdvanceBilling(t *testing.T) {
	entry := pendingItem(KindBillingEntry, 10, 3)
	entry.Status = StatusApproved
	repo := newMemoryQueueRepo(entry)
	svc := NewService(repo, &countingMetrics{}, testLogger, 0)

	ctx := context.Background()
	require.NoError(t, svc.AdvanceBilling(ctx, reviewer, 10, StatusBilled, ""))

	// Disputes need a reason.
	err := svc.AdvanceBilling(ctx, reviewer, 10, StatusDisputed, "")
	require.ErrorIs(t, err, shared.ErrValidation)
	require.NoError(t, svc.AdvanceBilling(ctx, reviewer, 10, StatusDisputed, "payer denied claim"))

	// Disputed entries re-enter the review queue.
	require.NoError(t, svc.AdvanceBilling(ctx, reviewer, 10, StatusPending, ""))

	// Skipping states is illegal.
	err = svc.AdvanceBilling(ctx, reviewer, 10, StatusPaid, "")
	require.ErrorIs(t, err, shared.ErrIllegalTransition)

	require.Len(t, repo.audits, 3)
}

func TestListPendingFlagsLateItemsFirst(t *testing.T) {
	fresh := pendingItem(KindSessionNote, 1, 3)
	fresh.SubmittedAt = time.Now().Add(-2 * time.Hour)
	stale := pendingItem(KindSessionNote, 2, 3)
	stale.SubmittedAt = time.Now().Add(-72 * time.Hour)
	repo := newMemoryQueueRepo(fresh, stale)
	svc := NewService(repo, nil, testLogger, 48*time.Hour)

	items, err := svc.ListPending(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, int64(2), items[0].RecordID)
	require.True(t, items[0].Late)
	require.False(t, items[1].Late)
}
