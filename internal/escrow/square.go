package escrow

import (
	"context"
	"fmt"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
	"github.com/angelmondragon/parcelpeer-backend/pkg/square"
)

// SquareProvider backs the ledger port with Square delayed-capture payments.
// A hold is an uncaptured payment; release captures it, refund cancels the
// authorization or refunds the captured amount depending on payment state.
type SquareProvider struct {
	client *square.Client
}

// NewSquareProvider wraps the shared Square client as a Provider.
func NewSquareProvider(client *square.Client) (*SquareProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("square client required")
	}
	return &SquareProvider{client: client}, nil
}

func (p *SquareProvider) Hold(ctx context.Context, req HoldRequest) (*HoldResult, error) {
	payment, err := p.client.CreatePaymentHold(ctx, square.PaymentHoldParams{
		AmountCents:    req.Amount.Shift(2).IntPart(),
		Currency:       string(req.Currency),
		LocationID:     p.client.LocationID(),
		CustomerID:     req.CustomerID,
		SourceID:       req.PaymentSourceID,
		IdempotencyKey: req.IdempotencyKey,
		Note:           req.Note,
		ReferenceID:    req.AgreementID.String(),
	})
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.ID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square payment missing id")
	}
	return &HoldResult{
		Reference: *payment.ID,
		Status:    holdStatusFromPayment(payment),
	}, nil
}

func (p *SquareProvider) Release(ctx context.Context, req ReleaseRequest) (*HoldResult, error) {
	payment, err := p.client.CompletePayment(ctx, req.Reference)
	if err != nil {
		return nil, err
	}
	return &HoldResult{
		Reference: req.Reference,
		Status:    holdStatusFromPayment(payment),
	}, nil
}

func (p *SquareProvider) Refund(ctx context.Context, req RefundRequest) (*HoldResult, error) {
	payment, err := p.client.GetPayment(ctx, req.Reference)
	if err != nil {
		return nil, err
	}

	switch paymentStatus(payment) {
	case "CANCELED":
		return &HoldResult{Reference: req.Reference, Status: enums.EscrowHoldStatusRefunded}, nil
	case "COMPLETED":
		// Captured already; money has to travel back as a refund.
		if _, err := p.client.RefundPayment(ctx, square.RefundParams{
			PaymentID:      req.Reference,
			AmountCents:    req.Amount.Shift(2).IntPart(),
			Currency:       string(req.Currency),
			Reason:         req.Reason,
			IdempotencyKey: req.IdempotencyKey,
		}); err != nil {
			return nil, err
		}
		return &HoldResult{Reference: req.Reference, Status: enums.EscrowHoldStatusRefunded}, nil
	default:
		if _, err := p.client.CancelPayment(ctx, req.Reference); err != nil {
			return nil, err
		}
		return &HoldResult{Reference: req.Reference, Status: enums.EscrowHoldStatusRefunded}, nil
	}
}

func (p *SquareProvider) StatusOf(ctx context.Context, reference string) (enums.EscrowHoldStatus, error) {
	payment, err := p.client.GetPayment(ctx, reference)
	if err != nil {
		return "", err
	}
	return holdStatusFromPayment(payment), nil
}

func paymentStatus(payment *sq.Payment) string {
	if payment == nil || payment.Status == nil {
		return ""
	}
	return *payment.Status
}

func holdStatusFromPayment(payment *sq.Payment) enums.EscrowHoldStatus {
	switch paymentStatus(payment) {
	case "APPROVED":
		return enums.EscrowHoldStatusHeld
	case "COMPLETED":
		return enums.EscrowHoldStatusReleased
	case "CANCELED":
		return enums.EscrowHoldStatusRefunded
	case "FAILED":
		return enums.EscrowHoldStatusFailed
	default:
		return enums.EscrowHoldStatusPending
	}
}
