package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/parcelpeer-backend/api/responses"
	"github.com/angelmondragon/parcelpeer-backend/pkg/config"
	"github.com/angelmondragon/parcelpeer-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
)

const readyCheckTimeout = 2 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ParcelPeer-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the backing stores before reporting ready.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP db.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ParcelPeer-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		checks["db"] = pingStatus(ctx, dbP)
		if checks["db"] != "ok" {
			healthy = false
		}
		checks["redis"] = pingStatus(ctx, redisP)
		if checks["redis"] != "ok" {
			healthy = false
		}

		if !healthy {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}

func pingStatus(ctx context.Context, p db.Pinger) string {
	if p == nil {
		return "skipped"
	}
	if err := p.Ping(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}
