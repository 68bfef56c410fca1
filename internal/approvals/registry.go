package approvals

// The registry is the compile-time catalog of the five approvable kinds:
// which transitions are legal, which target states demand a reason, and the
// projection used for queue listings.

// legalTargets returns the states reachable from the given state for a kind.
// The switch over kinds is exhaustive; adding a kind without extending it is
// a bug caught in review, not at runtime.
func legalTargets(kind ItemKind, from Status) []Status {
	switch kind {
	case KindSessionNote, KindTimeEntry, KindScheduleChange, KindTimeOffRequest:
		switch from {
		case StatusPending:
			return []Status{StatusApproved, StatusRevisionRequested, StatusRejected}
		case StatusRevisionRequested:
			return []Status{StatusPending}
		case StatusApproved, StatusRejected:
			// Terminal.
			return nil
		default:
			return nil
		}
	case KindBillingEntry:
		switch from {
		case StatusPending:
			return []Status{StatusApproved, StatusRevisionRequested, StatusRejected}
		case StatusRevisionRequested:
			return []Status{StatusPending}
		case StatusApproved:
			return []Status{StatusBilled}
		case StatusBilled:
			return []Status{StatusPaid, StatusDisputed}
		case StatusDisputed:
			// Disputed entries re-enter supervisor review.
			return []Status{StatusPending}
		case StatusPaid, StatusRejected:
			return nil
		default:
			return nil
		}
	default:
		return nil
	}
}

// CanTransition reports whether the state machine permits the move. It is a
// pure lookup; callers reject illegal requests before any write is attempted.
func CanTransition(kind ItemKind, from, to Status) bool {
	for _, target := range legalTargets(kind, from) {
		if target == to {
			return true
		}
	}
	return false
}

// targetStatus maps a reviewer action to the status it produces.
func targetStatus(action Action) (Status, bool) {
	switch action {
	case ActionApprove:
		return StatusApproved, true
	case ActionReject:
		return StatusRejected, true
	case ActionRequestRevision:
		return StatusRevisionRequested, true
	default:
		return "", false
	}
}

// RequiresReason reports whether a transition into the given status must
// carry a non-empty reason.
func RequiresReason(to Status) bool {
	switch to {
	case StatusRejected, StatusRevisionRequested, StatusDisputed:
		return true
	default:
		return false
	}
}

// ValidKind reports whether the kind belongs to the closed catalog.
func ValidKind(kind ItemKind) bool {
	switch kind {
	case KindSessionNote, KindTimeEntry, KindScheduleChange, KindTimeOffRequest, KindBillingEntry:
		return true
	default:
		return false
	}
}

// Projection describes the fields queue listings show for a kind.
type Projection struct {
	Label   string
	Columns []string
}

// ProjectionFor returns the listing projection of a kind.
func ProjectionFor(kind ItemKind) Projection {
	switch kind {
	case KindSessionNote:
		return Projection{Label: "Session Note", Columns: []string{"client", "service_type", "session_date", "duration_minutes", "billable_units"}}
	case KindTimeEntry:
		return Projection{Label: "Time Entry", Columns: []string{"employee", "work_date", "hours"}}
	case KindScheduleChange:
		return Projection{Label: "Schedule Change", Columns: []string{"employee", "client", "original_slot", "requested_slot"}}
	case KindTimeOffRequest:
		return Projection{Label: "Time Off", Columns: []string{"employee", "start_date", "end_date", "hours"}}
	case KindBillingEntry:
		return Projection{Label: "Billing Entry", Columns: []string{"client", "service_type", "units", "rate_per_unit", "total_amount", "authorization"}}
	default:
		return Projection{}
	}
}
