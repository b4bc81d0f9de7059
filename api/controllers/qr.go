package controllers

import (
	"net/http"

	"github.com/angelmondragon/parcelpeer-backend/api/responses"
	"github.com/angelmondragon/parcelpeer-backend/api/validators"
	"github.com/angelmondragon/parcelpeer-backend/internal/qr"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
)

// AgreementQRToken returns the signed proof-of-delivery payload for the
// agreement's active token, so the courier's device can re-render the code.
// Only the courier the token was issued to may fetch it.
func AgreementQRToken(svc qr.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agreementID, err := validators.ParsePathUUID(r, "agreementId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payload, err := svc.ActivePayload(r.Context(), agreementID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor := actorFromRequest(r)
		if payload.CourierID != actor.UserID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "token belongs to another courier"))
			return
		}
		responses.WriteSuccess(w, payload)
	}
}
