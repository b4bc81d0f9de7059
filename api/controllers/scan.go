package controllers

import (
	"net/http"

	"github.com/angelmondragon/parcelpeer-backend/api/responses"
	"github.com/angelmondragon/parcelpeer-backend/api/validators"
	"github.com/angelmondragon/parcelpeer-backend/internal/escrow"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
)

type scanRequest struct {
	Token string   `json:"token" validate:"required"`
	Lat   *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng   *float64 `json:"lng" validate:"omitempty,longitude"`
}

// ScanDelivery completes a delivery from a QR scan: the token is consumed
// and the escrow hold is released to the courier.
func ScanDelivery(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scanRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		agreement, err := svc.CompleteDeliveryByScan(r.Context(), escrow.ScanInput{
			Token: req.Token,
			Actor: actorFromRequest(r),
			Lat:   req.Lat,
			Lng:   req.Lng,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, agreement)
	}
}
