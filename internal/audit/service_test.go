package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryAuditRepo struct {
	entries []Entry
}

func (r *memoryAuditRepo) ListEntries(ctx context.Context, f Filter, limit, offset int) ([]Entry, error) {
	var matched []Entry
	for _, e := range r.entries {
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if f.RecordID != "" && e.RecordID != f.RecordID {
			continue
		}
		if f.ActorID != 0 && e.ActorID != f.ActorID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		matched = append(matched, e)
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *memoryAuditRepo) Trail(ctx context.Context, kind, recordID string) ([]Entry, error) {
	var matched []Entry
	for _, e := range r.entries {
		if e.Kind == kind && e.RecordID == recordID {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func seedEntries(n int, kind string) []Entry {
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, Entry{
			ID:        int64(i + 1),
			Kind:      kind,
			RecordID:  "42",
			Action:    ActionApprove,
			ActorID:   7,
			ActorName: "Dana Reyes",
			At:        time.Date(2026, 3, 1, 9, 0, i, 0, time.UTC),
		})
	}
	return entries
}

func TestQueryPaging(t *testing.T) {
	repo := &memoryAuditRepo{entries: seedEntries(25, "session_note")}
	svc := NewService(repo)

	first, err := svc.Query(context.Background(), Filter{Kind: "session_note", Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, first.Entries, 20)
	require.True(t, first.Paging.HasNext)
	require.Equal(t, 2, first.Paging.NextPage)

	second, err := svc.Query(context.Background(), Filter{Kind: "session_note", Page: 2, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, second.Entries, 5)
	require.False(t, second.Paging.HasNext)
	require.Equal(t, 1, second.Paging.PrevPage)
}

func TestQueryFiltersByAction(t *testing.T) {
	repo := &memoryAuditRepo{entries: []Entry{
		{ID: 1, Kind: "billing_entry", RecordID: "1", Action: ActionApprove, ActorName: "A"},
		{ID: 2, Kind: "billing_entry", RecordID: "1", Action: ActionReject, ActorName: "A"},
	}}
	svc := NewService(repo)

	result, err := svc.Query(context.Background(), Filter{Action: ActionReject})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	require.Equal(t, ActionReject, result.Entries[0].Action)
}

func TestTrailRequiresKindAndRecord(t *testing.T) {
	svc := NewService(&memoryAuditRepo{})
	_, err := svc.Trail(context.Background(), "", "42")
	require.Error(t, err)
	_, err = svc.Trail(context.Background(), "session_note", "")
	require.Error(t, err)
}

func TestTrailReturnsHistory(t *testing.T) {
	repo := &memoryAuditRepo{entries: seedEntries(3, "time_entry")}
	svc := NewService(repo)
	entries, err := svc.Trail(context.Background(), "time_entry", "42")
	require.NoError(t, err)
	require.Len(t, entries, 3)
}
