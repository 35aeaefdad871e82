// Package ops exposes the operational API: health, metrics, event inspection
// and deletion, and the reminder send/cancel endpoints.
package ops

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ghuser/eventcore/pkg/errhttp"
	"github.com/ghuser/eventcore/pkg/eventstore"
	"github.com/ghuser/eventcore/pkg/httpx"
	"github.com/ghuser/eventcore/pkg/reminder"
	"github.com/ghuser/eventcore/pkg/validator"
)

// queryParams are the accepted filters for GET /v1/events.
type queryParams struct {
	EventType   string    `json:"type" validate:"omitempty,eventtype"`
	AggregateID string    `json:"aggregate"`
	After       time.Time `json:"after"`
	Before      time.Time `json:"before"`
	Limit       int       `json:"limit" validate:"omitempty,gte=1,lte=1000"`
}

// Routes mounts the ops endpoints on r.
func Routes(r chi.Router, store eventstore.Store, reminders *reminder.Manager, checks httpx.HealthChecks, metrics http.Handler) {
	r.Get("/healthz", httpx.HealthHandler(checks))
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/events", listEvents(store))
		r.Get("/events/{id}", getEvent(store))
		r.Delete("/events/{id}", deleteEvent(store))
		r.Get("/stats", getStats(store))
		if reminders != nil {
			r.Post("/reminders", sendReminder(reminders))
			r.Delete("/reminders/{id}", cancelReminder(reminders))
		}
	})
}

// sendReminder publishes a reminder request and blocks until its response or
// timeout. Timeouts map to 504 so callers can distinguish "no answer" from a
// broken store or transport.
func sendReminder(reminders *reminder.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := validator.ValidateRequest[reminder.Request](w, r)
		if !ok {
			return
		}
		resp, err := reminders.Send(r.Context(), *req)
		if err != nil {
			errhttp.WriteError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, resp)
	}
}

func listEvents(store eventstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := parseQueryParams(r)
		if err != nil {
			httpx.JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := validator.Validate(params); err != nil {
			httpx.JSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "Validation failed",
				"fields": validator.FormatValidationErrors(err),
			})
			return
		}

		evts, err := store.Query(r.Context(), eventstore.Criteria{
			EventType:   params.EventType,
			AggregateID: params.AggregateID,
			After:       params.After,
			Before:      params.Before,
			Limit:       params.Limit,
		})
		if err != nil {
			errhttp.WriteError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"events": evts,
			"count":  len(evts),
		})
	}
}

func getEvent(store eventstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		evt, err := store.Load(r.Context(), id)
		if err != nil {
			errhttp.WriteError(w, err)
			return
		}
		if evt == nil {
			errhttp.WriteError(w, fmt.Errorf("%w: %s", errhttp.ErrNotFound, id))
			return
		}
		httpx.JSON(w, http.StatusOK, evt)
	}
}

func deleteEvent(store eventstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		existed, err := store.Delete(r.Context(), id)
		if err != nil {
			errhttp.WriteError(w, err)
			return
		}
		if !existed {
			errhttp.WriteError(w, fmt.Errorf("%w: %s", errhttp.ErrNotFound, id))
			return
		}
		httpx.NoContent(w)
	}
}

// cancelReminder abandons a pending reminder; the blocked sender gets a
// cancellation. A reminder that already settled is a 404.
func cancelReminder(reminders *reminder.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !reminders.Cancel(id) {
			errhttp.WriteError(w, fmt.Errorf("%w: %s", errhttp.ErrNotFound, id))
			return
		}
		httpx.NoContent(w)
	}
}

func getStats(store eventstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.Stats(r.Context())
		if err != nil {
			errhttp.WriteError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, stats)
	}
}

func parseQueryParams(r *http.Request) (*queryParams, error) {
	q := r.URL.Query()
	params := &queryParams{
		EventType:   q.Get("type"),
		AggregateID: q.Get("aggregate"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid limit %q", v)
		}
		params.Limit = n
	}
	if v := q.Get("after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid after %q: must be RFC3339", v)
		}
		params.After = t
	}
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid before %q: must be RFC3339", v)
		}
		params.Before = t
	}
	return params, nil
}
