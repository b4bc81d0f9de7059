package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/parcelpeer-backend/api/responses"
	"github.com/angelmondragon/parcelpeer-backend/api/validators"
	"github.com/angelmondragon/parcelpeer-backend/internal/disputes"
	"github.com/angelmondragon/parcelpeer-backend/internal/escrow"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
)

type openDisputeRequest struct {
	Type        string   `json:"type" validate:"required"`
	Description string   `json:"description" validate:"required,min=10,max=2000"`
	Evidence    []string `json:"evidence" validate:"omitempty,max=10,dive,url"`
}

type resolveDisputeRequest struct {
	Resolution string  `json:"resolution" validate:"required"`
	Amount     *string `json:"amount"`
	Notes      *string `json:"notes" validate:"omitempty,max=2000"`
}

// OpenDispute raises a dispute against an agreement and freezes its escrow.
func OpenDispute(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agreementID, err := validators.ParsePathUUID(r, "agreementId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req openDisputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		disputeType, err := enums.ParseDisputeType(req.Type)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown dispute type"))
			return
		}
		actor := actorFromRequest(r)
		dispute, err := svc.HandleDispute(r.Context(), agreementID, disputes.OpenDisputeInput{
			RaisedBy:    actor.UserID,
			RaisedRole:  actor.Role,
			Type:        disputeType,
			Description: req.Description,
			Evidence:    req.Evidence,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dispute)
	}
}

// GetDispute returns a dispute by id.
func GetDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := validators.ParsePathUUID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dispute, err := svc.Get(r.Context(), disputeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

// ListAgreementDisputes returns every dispute ever raised on an agreement.
func ListAgreementDisputes(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agreementID, err := validators.ParsePathUUID(r, "agreementId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListForAgreement(r.Context(), agreementID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// StartDisputeReview moves a dispute into review by the calling admin.
func StartDisputeReview(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := validators.ParsePathUUID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor := actorFromRequest(r)
		dispute, err := svc.StartReview(r.Context(), disputeID, actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

type closeDisputeRequest struct {
	Notes *string `json:"notes" validate:"omitempty,max=2000"`
}

// CloseDispute closes a dispute without a disposition. The agreement keeps
// its disputed state and the hold stays frozen until an admin settles it.
func CloseDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := validators.ParsePathUUID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req closeDisputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor := actorFromRequest(r)
		dispute, err := svc.CloseWithoutResolution(r.Context(), disputeID, actor.UserID, req.Notes)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

// ResolveDispute applies the arbiter's disposition and settles the hold.
func ResolveDispute(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agreementID, err := validators.ParsePathUUID(r, "agreementId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		disputeID, err := validators.ParsePathUUID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req resolveDisputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resolution, err := enums.ParseDisputeResolution(req.Resolution)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown resolution"))
			return
		}
		var amount *decimal.Decimal
		if req.Amount != nil {
			parsed, err := decimal.NewFromString(*req.Amount)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount"))
				return
			}
			if parsed.IsNegative() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative"))
				return
			}
			amount = &parsed
		}
		agreement, err := svc.ResolveDispute(r.Context(), agreementID, escrow.ResolveDisputeInput{
			DisputeID:  disputeID,
			Resolution: resolution,
			Amount:     amount,
			Notes:      req.Notes,
			Actor:      actorFromRequest(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, agreement)
	}
}
