package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateAgreement OutboxAggregateType = "agreement"
	AggregateDispute   OutboxAggregateType = "dispute"
	AggregatePackage   OutboxAggregateType = "package"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateAgreement,
	AggregateDispute,
	AggregatePackage,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventAgreementCreated       OutboxEventType = "agreement_created"
	EventPickupConfirmed        OutboxEventType = "pickup_confirmed"
	EventDeliveryConfirmed      OutboxEventType = "delivery_confirmed"
	EventEscrowReleased         OutboxEventType = "escrow_released"
	EventEscrowRefunded         OutboxEventType = "escrow_refunded"
	EventAgreementCancelled     OutboxEventType = "agreement_cancelled"
	EventDisputeOpened          OutboxEventType = "dispute_opened"
	EventDisputeUnderReview     OutboxEventType = "dispute_under_review"
	EventDisputeResolved        OutboxEventType = "dispute_resolved"
	EventManualSettlementNeeded OutboxEventType = "manual_settlement_needed"
	EventEscrowIntentReconciled OutboxEventType = "escrow_intent_reconciled"
	EventQRTokenGenerated       OutboxEventType = "qr_token_generated"
	EventNotificationRequested  OutboxEventType = "notification_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventAgreementCreated,
	EventPickupConfirmed,
	EventDeliveryConfirmed,
	EventEscrowReleased,
	EventEscrowRefunded,
	EventAgreementCancelled,
	EventDisputeOpened,
	EventDisputeUnderReview,
	EventDisputeResolved,
	EventManualSettlementNeeded,
	EventEscrowIntentReconciled,
	EventQRTokenGenerated,
	EventNotificationRequested,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
