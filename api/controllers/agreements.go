package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/parcelpeer-backend/api/middleware"
	"github.com/angelmondragon/parcelpeer-backend/api/responses"
	"github.com/angelmondragon/parcelpeer-backend/api/validators"
	"github.com/angelmondragon/parcelpeer-backend/internal/escrow"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
)

type createAgreementRequest struct {
	PackageID       uuid.UUID `json:"packageId" validate:"required"`
	PaymentSourceID string    `json:"paymentSourceId" validate:"required"`
	CustomerID      string    `json:"customerId"`
}

type cancelAgreementRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

func actorFromRequest(r *http.Request) escrow.Actor {
	return escrow.Actor{
		UserID: middleware.UserIDFromContext(r.Context()),
		Role:   middleware.RoleFromContext(r.Context()),
	}
}

// CreateAgreement opens a delivery agreement: the courier claims the package
// and the sender's funds are held in escrow.
func CreateAgreement(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAgreementRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor := actorFromRequest(r)
		agreement, err := svc.CreateAgreement(r.Context(), escrow.CreateAgreementInput{
			PackageID:       req.PackageID,
			CourierID:       actor.UserID,
			PaymentSourceID: req.PaymentSourceID,
			CustomerID:      req.CustomerID,
			Actor:           actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, agreement)
	}
}

// GetAgreement returns a single agreement by id.
func GetAgreement(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agreementID, err := validators.ParsePathUUID(r, "agreementId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		agreement, err := svc.Get(r.Context(), agreementID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, agreement)
	}
}

// AgreementHistory returns the agreement's append-only event log.
func AgreementHistory(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agreementID, err := validators.ParsePathUUID(r, "agreementId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		events, err := svc.History(r.Context(), agreementID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, events)
	}
}

// ConfirmPickup moves an agreement into transit.
func ConfirmPickup(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agreementID, err := validators.ParsePathUUID(r, "agreementId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		agreement, err := svc.ConfirmPickup(r.Context(), agreementID, actorFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, agreement)
	}
}

// ConfirmDelivery records a manual sender confirmation. Funds stay held
// until the grace window closes.
func ConfirmDelivery(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agreementID, err := validators.ParsePathUUID(r, "agreementId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		agreement, err := svc.ConfirmDeliveryManual(r.Context(), agreementID, actorFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, agreement)
	}
}

// CancelAgreement cancels a delivery and refunds the escrow hold.
func CancelAgreement(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agreementID, err := validators.ParsePathUUID(r, "agreementId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req cancelAgreementRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		agreement, err := svc.CancelDelivery(r.Context(), agreementID, req.Reason, actorFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, agreement)
	}
}
