package escrow

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
)

// HoldRequest asks the custodian to authorize the full agreed price without
// capturing it.
type HoldRequest struct {
	AgreementID     uuid.UUID
	SenderID        uuid.UUID
	Amount          decimal.Decimal
	Currency        enums.Currency
	PaymentSourceID string
	CustomerID      string
	IdempotencyKey  string
	Note            string
}

// HoldResult reports the custodian's view of a hold after an operation.
type HoldResult struct {
	Reference string
	Status    enums.EscrowHoldStatus
}

// ReleaseRequest captures a previously authorized hold for the courier.
type ReleaseRequest struct {
	Reference      string
	IdempotencyKey string
}

// RefundRequest returns held funds to the sender.
type RefundRequest struct {
	Reference      string
	Amount         decimal.Decimal
	Currency       enums.Currency
	Reason         string
	IdempotencyKey string
}

// Provider is the capability interface to the external funds custodian.
// Every call is idempotency-keyed so a retry after a torn commit replays
// instead of double-moving money. Implementations hold no business logic.
type Provider interface {
	Hold(ctx context.Context, req HoldRequest) (*HoldResult, error)
	Release(ctx context.Context, req ReleaseRequest) (*HoldResult, error)
	Refund(ctx context.Context, req RefundRequest) (*HoldResult, error)
	StatusOf(ctx context.Context, reference string) (enums.EscrowHoldStatus, error)
}
