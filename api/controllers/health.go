package controllers

import (
	"context"
	"net/http"

	"github.com/selimbenhamida/revend-backend/api/responses"
	"github.com/selimbenhamida/revend-backend/pkg/config"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Revend-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady verifies the backing stores before reporting ready.
func HealthReady(cfg *config.Config, db, cache pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Revend-Env", cfg.App.Env)

		checks := map[string]string{}
		failed := false
		for name, dep := range map[string]pinger{"database": db, "redis": cache} {
			if dep == nil {
				checks[name] = "skipped"
				continue
			}
			if err := dep.Ping(r.Context()); err != nil {
				checks[name] = "down"
				failed = true
				continue
			}
			checks[name] = "up"
		}

		if failed {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
