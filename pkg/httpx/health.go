package httpx

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker is satisfied by any infrastructure dependency that exposes
// a Ping method (the Redis-backed event store and the event bus both qualify).
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthChecks holds the set of dependencies to probe in the health endpoint.
type HealthChecks struct {
	Store HealthChecker
	Bus   HealthChecker
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Bus    string `json:"bus"`
}

// HealthHandler returns an http.HandlerFunc that probes all registered
// HealthCheckers and reports degraded status if any of them fail.
func HealthHandler(checks HealthChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Store: "ok", Bus: "ok"}

		if checks.Store != nil {
			if err := checks.Store.Ping(ctx); err != nil {
				resp.Status = "degraded"
				resp.Store = "unreachable"
			}
		}
		if checks.Bus != nil {
			if err := checks.Bus.Ping(ctx); err != nil {
				resp.Status = "degraded"
				resp.Bus = "unreachable"
			}
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		JSON(w, status, resp)
	}
}
