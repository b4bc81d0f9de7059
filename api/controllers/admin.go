package controllers

import (
	"net/http"

	"github.com/angelmondragon/parcelpeer-backend/api/responses"
	"github.com/angelmondragon/parcelpeer-backend/api/validators"
	"github.com/angelmondragon/parcelpeer-backend/internal/escrow"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
)

// AdminReleaseEscrow releases a held escrow on an admin's authority, for
// agreements where support intervened out of band or the auto release
// sweep cannot reach them.
func AdminReleaseEscrow(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agreementID, err := validators.ParsePathUUID(r, "agreementId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		agreement, err := svc.ReleaseEscrow(r.Context(), agreementID, escrow.ReleaseTriggerAdmin, actorFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, agreement)
	}
}
