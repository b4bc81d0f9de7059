package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/parcelpeer-backend/api/controllers"
	"github.com/angelmondragon/parcelpeer-backend/api/middleware"
	"github.com/angelmondragon/parcelpeer-backend/internal/disputes"
	"github.com/angelmondragon/parcelpeer-backend/internal/escrow"
	"github.com/angelmondragon/parcelpeer-backend/internal/qr"
	"github.com/angelmondragon/parcelpeer-backend/pkg/config"
	"github.com/angelmondragon/parcelpeer-backend/pkg/db"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
)

// NewRouter assembles the HTTP surface. Escrow state changes are gated by
// role: couriers open agreements and confirm pickups, senders confirm
// deliveries and raise disputes, admins arbitrate and force releases.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP db.Pinger,
	escrowSvc escrow.Service,
	disputeSvc disputes.Service,
	qrSvc qr.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/agreements", func(r chi.Router) {
			r.Get("/{agreementId}", controllers.GetAgreement(escrowSvc, logg))
			r.Get("/{agreementId}/history", controllers.AgreementHistory(escrowSvc, logg))
			r.Get("/{agreementId}/disputes", controllers.ListAgreementDisputes(disputeSvc, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleCourier))
				r.Post("/", controllers.CreateAgreement(escrowSvc, logg))
				r.Post("/{agreementId}/pickup", controllers.ConfirmPickup(escrowSvc, logg))
				r.Get("/{agreementId}/qr", controllers.AgreementQRToken(qrSvc, logg))
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleSender))
				r.Post("/{agreementId}/confirm", controllers.ConfirmDelivery(escrowSvc, logg))
				r.Post("/{agreementId}/disputes", controllers.OpenDispute(escrowSvc, logg))
			})

			r.With(middleware.RequireRole(logg, enums.ActorRoleSender, enums.ActorRoleCourier)).
				Post("/{agreementId}/cancel", controllers.CancelAgreement(escrowSvc, logg))
		})

		// The QR payload carries the agreement identity, so the scan
		// endpoint takes no path id.
		r.With(middleware.RequireRole(logg, enums.ActorRoleSender)).
			Post("/deliveries/scan", controllers.ScanDelivery(escrowSvc, logg))

		r.Route("/disputes", func(r chi.Router) {
			r.Get("/{disputeId}", controllers.GetDispute(disputeSvc, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
			r.Post("/agreements/{agreementId}/release", controllers.AdminReleaseEscrow(escrowSvc, logg))
			r.Post("/disputes/{disputeId}/review", controllers.StartDisputeReview(disputeSvc, logg))
			r.Post("/disputes/{disputeId}/close", controllers.CloseDispute(disputeSvc, logg))
			r.Post("/agreements/{agreementId}/disputes/{disputeId}/resolve", controllers.ResolveDispute(escrowSvc, logg))
		})
	})

	return r
}
