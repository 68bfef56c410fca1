package approvals

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/clearpath-care/clearpath/internal/audit"
	"github.com/clearpath-care/clearpath/internal/shared"
)

// RepositoryPort defines data access for the approval queue. ApplyBatch is
// all-or-nothing: every status change and every audit entry commit in a
// single transaction, or none do.
type RepositoryPort interface {
	GetItem(ctx context.Context, ref ItemRef) (*Item, error)
	ListItems(ctx context.Context, filter ListFilter) ([]Item, error)
	ApplyBatch(ctx context.Context, changes []StatusChange, entries []audit.Entry) error
}

// MetricsPort records approval throughput.
type MetricsPort interface {
	ApprovalProcessed(kind, action string)
}

// Service enforces the approval state machine.
type Service struct {
	repo      RepositoryPort
	metrics   MetricsPort
	logger    *slog.Logger
	lateAfter time.Duration
}

// NewService builds Service instance. lateAfter is the advisory threshold
// past which pending items are flagged late in read queries.
func NewService(repo RepositoryPort, metrics MetricsPort, logger *slog.Logger, lateAfter time.Duration) *Service {
	if lateAfter <= 0 {
		lateAfter = 48 * time.Hour
	}
	return &Service{repo: repo, metrics: metrics, logger: logger, lateAfter: lateAfter}
}

// CanTransition is a pure lookup against the registry's transition table.
func (s *Service) CanTransition(kind ItemKind, from, to Status) bool {
	return CanTransition(kind, from, to)
}

func auditAction(action Action) audit.Action {
	switch action {
	case ActionApprove:
		return audit.ActionApprove
	case ActionReject:
		return audit.ActionReject
	default:
		return audit.ActionUpdate
	}
}

// ReviewBatch validates and applies one supervisor decision across a batch
// of items. Validation failures surface before any write; the batch commits
// atomically with exactly one audit entry per item.
func (s *Service) ReviewBatch(ctx context.Context, actor shared.Actor, input BatchInput) (BatchResult, error) {
	result := BatchResult{BatchID: uuid.New()}
	if len(input.Refs) == 0 {
		return result, fmt.Errorf("%w: batch must contain at least one item", shared.ErrValidation)
	}
	target, ok := targetStatus(input.Action)
	if !ok {
		return result, fmt.Errorf("%w: unknown action %q", shared.ErrValidation, input.Action)
	}
	if input.Signature != actor.DisplayName {
		return result, fmt.Errorf("%w: signature does not match reviewer name", shared.ErrUnauthorized)
	}

	now := time.Now()
	changes := make([]StatusChange, 0, len(input.Refs))
	entries := make([]audit.Entry, 0, len(input.Refs))
	result.Results = make([]ItemResult, len(input.Refs))
	failed := false

	for i, ref := range input.Refs {
		result.Results[i] = ItemResult{Ref: ref}
		if !ValidKind(ref.Kind) {
			result.Results[i].Error = fmt.Sprintf("unknown kind %q", ref.Kind)
			failed = true
			continue
		}
		reason := input.Comment
		if i < len(input.Reasons) && input.Reasons[i] != "" {
			reason = input.Reasons[i]
		}
		if RequiresReason(target) && reason == "" {
			result.Results[i].Error = "a reason is required for this action"
			failed = true
			continue
		}
		item, err := s.repo.GetItem(ctx, ref)
		if err != nil {
			return result, err
		}
		if item == nil {
			result.Results[i].Error = "item not found"
			failed = true
			continue
		}
		if !CanTransition(ref.Kind, item.Status, target) {
			result.Results[i].Error = fmt.Sprintf("cannot move %s from %s to %s", ref.Kind, item.Status, target)
			failed = true
			continue
		}
		changes = append(changes, StatusChange{Ref: ref, From: item.Status, To: target, Comment: reason, DecidedAt: now})
		entries = append(entries, audit.Entry{
			Kind:       string(ref.Kind),
			RecordID:   strconv.FormatInt(ref.RecordID, 10),
			Action:     auditAction(input.Action),
			OldValue:   map[string]any{"status": string(item.Status)},
			NewValue:   map[string]any{"status": string(target), "comment": reason},
			ActorID:    actor.ID,
			ActorName:  actor.DisplayName,
			BatchID:    result.BatchID,
			ClientAddr: actor.RemoteAddr,
			At:         now,
		})
		result.Results[i].OK = true
	}

	if failed {
		// No partial batches: one bad item voids the whole call.
		for i := range result.Results {
			if result.Results[i].Error == "" {
				result.Results[i].OK = false
				result.Results[i].Error = "batch aborted by another item"
			}
		}
		return result, batchError(result)
	}

	if err := s.repo.ApplyBatch(ctx, changes, entries); err != nil {
		return result, err
	}
	result.Applied = true
	if s.metrics != nil {
		for _, ref := range input.Refs {
			s.metrics.ApprovalProcessed(string(ref.Kind), string(input.Action))
		}
	}
	s.logger.Info("approval batch applied",
		slog.String("batch_id", result.BatchID.String()),
		slog.String("action", string(input.Action)),
		slog.Int("items", len(input.Refs)),
		slog.Int64("reviewer_id", actor.ID))
	return result, nil
}

func batchError(result BatchResult) error {
	for _, r := range result.Results {
		if r.Error == "" || r.Error == "batch aborted by another item" {
			continue
		}
		switch r.Error {
		case "item not found":
			return fmt.Errorf("%w: %s %d", shared.ErrNotFound, r.Ref.Kind, r.Ref.RecordID)
		case "a reason is required for this action":
			return fmt.Errorf("%w: %s %d: %s", shared.ErrValidation, r.Ref.Kind, r.Ref.RecordID, r.Error)
		default:
			return fmt.Errorf("%w: %s %d: %s", shared.ErrIllegalTransition, r.Ref.Kind, r.Ref.RecordID, r.Error)
		}
	}
	return fmt.Errorf("%w: batch rejected", shared.ErrValidation)
}

// Resubmit returns a revision-requested item to the pending queue. Only the
// owning staff member may resubmit.
func (s *Service) Resubmit(ctx context.Context, actor shared.Actor, ref ItemRef) error {
	item, err := s.repo.GetItem(ctx, ref)
	if err != nil {
		return err
	}
	if item == nil {
		return shared.ErrNotFound
	}
	if item.OwnerID != actor.ID {
		return fmt.Errorf("%w: only the owner may resubmit", shared.ErrUnauthorized)
	}
	if !CanTransition(ref.Kind, item.Status, StatusPending) {
		return fmt.Errorf("%w: cannot resubmit from %s", shared.ErrIllegalTransition, item.Status)
	}
	now := time.Now()
	return s.repo.ApplyBatch(ctx,
		[]StatusChange{{Ref: ref, From: item.Status, To: StatusPending, DecidedAt: now}},
		[]audit.Entry{{
			Kind:       string(ref.Kind),
			RecordID:   strconv.FormatInt(ref.RecordID, 10),
			Action:     audit.ActionUpdate,
			OldValue:   map[string]any{"status": string(item.Status)},
			NewValue:   map[string]any{"status": string(StatusPending)},
			ActorID:    actor.ID,
			ActorName:  actor.DisplayName,
			ClientAddr: actor.RemoteAddr,
			At:         now,
		}})
}

// AdvanceBilling moves a billing entry along the downstream claims chain:
// approved to billed, billed to paid or disputed, disputed back to pending.
func (s *Service) AdvanceBilling(ctx context.Context, actor shared.Actor, recordID int64, to Status, reason string) error {
	ref := ItemRef{Kind: KindBillingEntry, RecordID: recordID}
	item, err := s.repo.GetItem(ctx, ref)
	if err != nil {
		return err
	}
	if item == nil {
		return shared.ErrNotFound
	}
	if RequiresReason(to) && reason == "" {
		return fmt.Errorf("%w: a reason is required to mark an entry %s", shared.ErrValidation, to)
	}
	if !CanTransition(KindBillingEntry, item.Status, to) {
		return fmt.Errorf("%w: cannot move billing entry from %s to %s", shared.ErrIllegalTransition, item.Status, to)
	}
	now := time.Now()
	err = s.repo.ApplyBatch(ctx,
		[]StatusChange{{Ref: ref, From: item.Status, To: to, Comment: reason, DecidedAt: now}},
		[]audit.Entry{{
			Kind:       string(KindBillingEntry),
			RecordID:   strconv.FormatInt(recordID, 10),
			Action:     audit.ActionUpdate,
			OldValue:   map[string]any{"status": string(item.Status)},
			NewValue:   map[string]any{"status": string(to), "reason": reason},
			ActorID:    actor.ID,
			ActorName:  actor.DisplayName,
			ClientAddr: actor.RemoteAddr,
			At:         now,
		}})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ApprovalProcessed(string(KindBillingEntry), string(to))
	}
	return nil
}

// ListPending returns queue items, flagging ones pending past the lateness
// threshold and sorting them first. Lateness is advisory and never changes
// state.
func (s *Service) ListPending(ctx context.Context, filter ListFilter) ([]Item, error) {
	if filter.Status == "" {
		filter.Status = StatusPending
	}
	items, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-s.lateAfter)
	for i := range items {
		items[i].Late = items[i].Status == StatusPending && items[i].SubmittedAt.Before(cutoff)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Late != items[j].Late {
			return items[i].Late
		}
		return items[i].SubmittedAt.Before(items[j].SubmittedAt)
	})
	return items, nil
}

// Get returns one queue item.
func (s *Service) Get(ctx context.Context, ref ItemRef) (*Item, error) {
	item, err := s.repo.GetItem(ctx, ref)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, shared.ErrNotFound
	}
	return item, nil
}
