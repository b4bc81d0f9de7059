package agreements

import (
	"fmt"

	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
)

// allowedTransitions is the full lifecycle graph. Completed re-enters
// disputed only during the trailing dispute window; that time-based guard
// lives in the orchestrator, not here.
var allowedTransitions = map[enums.AgreementStatus][]enums.AgreementStatus{
	enums.AgreementStatusPendingPickup: {
		enums.AgreementStatusInTransit,
		enums.AgreementStatusCancelled,
		enums.AgreementStatusDisputed,
	},
	enums.AgreementStatusInTransit: {
		enums.AgreementStatusCompleted,
		enums.AgreementStatusDisputed,
		enums.AgreementStatusCancelled,
	},
	enums.AgreementStatusCompleted: {
		enums.AgreementStatusDisputed,
	},
	enums.AgreementStatusDisputed: {
		enums.AgreementStatusCompleted,
		enums.AgreementStatusCancelled,
	},
	enums.AgreementStatusCancelled: {},
}

// CanTransition reports whether the lifecycle graph contains the edge.
func CanTransition(current, target enums.AgreementStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == target {
			return true
		}
	}
	return false
}

// Transition validates a requested status change against the lifecycle
// graph. It never touches persistence; callers apply accepted transitions
// atomically with the matching event row.
func Transition(current, target enums.AgreementStatus) error {
	if !current.IsValid() {
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unknown agreement status %q", current))
	}
	if !target.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid agreement status %q", target))
	}
	if !CanTransition(current, target) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "invalid agreement transition").
			WithDetails(map[string]string{
				"from": current.String(),
				"to":   target.String(),
			})
	}
	return nil
}
