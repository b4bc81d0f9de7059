package enums

import "fmt"

// AgreementStatus tracks the lifecycle of a delivery agreement.
type AgreementStatus string

const (
	AgreementStatusPendingPickup AgreementStatus = "pending_pickup"
	AgreementStatusInTransit     AgreementStatus = "in_transit"
	AgreementStatusCompleted     AgreementStatus = "completed"
	AgreementStatusDisputed      AgreementStatus = "disputed"
	AgreementStatusCancelled     AgreementStatus = "cancelled"
)

var validAgreementStatuses = []AgreementStatus{
	AgreementStatusPendingPickup,
	AgreementStatusInTransit,
	AgreementStatusCompleted,
	AgreementStatusDisputed,
	AgreementStatusCancelled,
}

// String implements fmt.Stringer.
func (a AgreementStatus) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AgreementStatus.
func (a AgreementStatus) IsValid() bool {
	for _, candidate := range validAgreementStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave the status.
// Completed agreements can still enter a trailing dispute, so only
// cancelled is unconditionally terminal.
func (a AgreementStatus) IsTerminal() bool {
	return a == AgreementStatusCancelled
}

// ParseAgreementStatus converts raw input into an AgreementStatus.
func ParseAgreementStatus(value string) (AgreementStatus, error) {
	for _, candidate := range validAgreementStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid agreement status %q", value)
}
