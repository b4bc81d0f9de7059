package enums

import "fmt"

// AgreementEventType labels an entry in an agreement's append-only event log.
type AgreementEventType string

const (
	AgreementEventCreated           AgreementEventType = "agreement_created"
	AgreementEventPickupConfirmed   AgreementEventType = "pickup_confirmed"
	AgreementEventDeliveryConfirmed AgreementEventType = "delivery_confirmed"
	AgreementEventEscrowReleased    AgreementEventType = "escrow_released"
	AgreementEventAutoReleased      AgreementEventType = "escrow_auto_released"
	AgreementEventQRGenerated       AgreementEventType = "qr_generated"
	AgreementEventQRScanned         AgreementEventType = "qr_scanned"
	AgreementEventDisputeOpened     AgreementEventType = "dispute_opened"
	AgreementEventDisputeResolved   AgreementEventType = "dispute_resolved"
	AgreementEventCancelled         AgreementEventType = "agreement_cancelled"
)

var validAgreementEventTypes = []AgreementEventType{
	AgreementEventCreated,
	AgreementEventPickupConfirmed,
	AgreementEventDeliveryConfirmed,
	AgreementEventEscrowReleased,
	AgreementEventAutoReleased,
	AgreementEventQRGenerated,
	AgreementEventQRScanned,
	AgreementEventDisputeOpened,
	AgreementEventDisputeResolved,
	AgreementEventCancelled,
}

// IsValid reports whether the value is a known AgreementEventType.
func (a AgreementEventType) IsValid() bool {
	for _, candidate := range validAgreementEventTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAgreementEventType converts raw input into an AgreementEventType.
func ParseAgreementEventType(value string) (AgreementEventType, error) {
	for _, candidate := range validAgreementEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid agreement event type %q", value)
}
