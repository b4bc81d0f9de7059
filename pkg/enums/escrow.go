package enums

import "fmt"

// EscrowHoldStatus mirrors the hold state reported by the funds custodian.
type EscrowHoldStatus string

const (
	EscrowHoldStatusPending  EscrowHoldStatus = "pending"
	EscrowHoldStatusHeld     EscrowHoldStatus = "held"
	EscrowHoldStatusReleased EscrowHoldStatus = "released"
	EscrowHoldStatusRefunded EscrowHoldStatus = "refunded"
	EscrowHoldStatusFailed   EscrowHoldStatus = "failed"

	// EscrowHoldStatusFrozen parks the hold for manual settlement. No
	// automated path may move frozen funds.
	EscrowHoldStatusFrozen EscrowHoldStatus = "frozen"
)

var validEscrowHoldStatuses = []EscrowHoldStatus{
	EscrowHoldStatusPending,
	EscrowHoldStatusHeld,
	EscrowHoldStatusReleased,
	EscrowHoldStatusRefunded,
	EscrowHoldStatusFailed,
	EscrowHoldStatusFrozen,
}

// String implements fmt.Stringer.
func (e EscrowHoldStatus) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EscrowHoldStatus.
func (e EscrowHoldStatus) IsValid() bool {
	for _, candidate := range validEscrowHoldStatuses {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEscrowHoldStatus converts raw input into an EscrowHoldStatus.
func ParseEscrowHoldStatus(value string) (EscrowHoldStatus, error) {
	for _, candidate := range validEscrowHoldStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow hold status %q", value)
}

// EscrowOperation names a fund movement issued against the custodian.
type EscrowOperation string

const (
	EscrowOperationHold    EscrowOperation = "hold"
	EscrowOperationRelease EscrowOperation = "release"
	EscrowOperationRefund  EscrowOperation = "refund"
)

var validEscrowOperations = []EscrowOperation{
	EscrowOperationHold,
	EscrowOperationRelease,
	EscrowOperationRefund,
}

// IsValid reports whether the value is a known EscrowOperation.
func (e EscrowOperation) IsValid() bool {
	for _, candidate := range validEscrowOperations {
		if candidate == e {
			return true
		}
	}
	return false
}

// EscrowIntentStatus tracks a write-ahead intent for a custodian call.
type EscrowIntentStatus string

const (
	EscrowIntentStatusPending  EscrowIntentStatus = "pending"
	EscrowIntentStatusExecuted EscrowIntentStatus = "executed"
	EscrowIntentStatusFailed   EscrowIntentStatus = "failed"
)

var validEscrowIntentStatuses = []EscrowIntentStatus{
	EscrowIntentStatusPending,
	EscrowIntentStatusExecuted,
	EscrowIntentStatusFailed,
}

// IsValid reports whether the value is a known EscrowIntentStatus.
func (e EscrowIntentStatus) IsValid() bool {
	for _, candidate := range validEscrowIntentStatuses {
		if candidate == e {
			return true
		}
	}
	return false
}
