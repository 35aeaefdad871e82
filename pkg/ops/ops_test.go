package ops_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ghuser/eventcore/pkg/events"
	"github.com/ghuser/eventcore/pkg/eventstore"
	"github.com/ghuser/eventcore/pkg/httpx"
	"github.com/ghuser/eventcore/pkg/ops"
)

type auditEvent struct {
	events.Base
	Actor string `json:"actor"`
}

// fakeStore serves canned events for handler tests.
type fakeStore struct {
	byID map[string]events.Event
}

func (s *fakeStore) Connect(context.Context) error { return nil }
func (s *fakeStore) Close() error                  { return nil }
func (s *fakeStore) Connected() bool               { return true }
func (s *fakeStore) Ping(context.Context) error    { return nil }

func (s *fakeStore) Save(_ context.Context, evt events.Event) error {
	s.byID[evt.EventID()] = evt
	return nil
}

func (s *fakeStore) Load(_ context.Context, id string) (events.Event, error) {
	return s.byID[id], nil
}

func (s *fakeStore) Delete(_ context.Context, id string) (bool, error) {
	_, ok := s.byID[id]
	delete(s.byID, id)
	return ok, nil
}

func (s *fakeStore) Query(_ context.Context, c eventstore.Criteria) ([]events.Event, error) {
	var out []events.Event
	for _, evt := range s.byID {
		if c.EventType == "" || evt.EventType() == c.EventType {
			out = append(out, evt)
		}
	}
	if c.Limit > 0 && len(out) > c.Limit {
		out = out[:c.Limit]
	}
	return out, nil
}

func (s *fakeStore) Stats(context.Context) (*eventstore.Stats, error) {
	return &eventstore.Stats{TotalEvents: int64(len(s.byID))}, nil
}

func (s *fakeStore) Clear(context.Context) error { return nil }

func setup(t *testing.T) (*fakeStore, *chi.Mux) {
	t.Helper()
	store := &fakeStore{byID: make(map[string]events.Event)}
	r := chi.NewRouter()
	ops.Routes(r, store, nil, httpx.HealthChecks{Store: store}, nil)
	return store, r
}

func seed(store *fakeStore, eventType string) events.Event {
	evt := &auditEvent{Base: events.NewBase(eventType), Actor: "ops"}
	store.byID[evt.EventID()] = evt
	return evt
}

func do(r http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, target, http.NoBody))
	return rr
}

func TestHealthz(t *testing.T) {
	_, r := setup(t)
	if rr := do(r, http.MethodGet, "/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestListEvents(t *testing.T) {
	store, r := setup(t)
	seed(store, "audit.login")
	seed(store, "audit.logout")

	rr := do(r, http.MethodGet, "/v1/events?type=audit.login")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 {
		t.Fatalf("expected 1 match, got %d", body.Count)
	}
}

func TestListEvents_ValidatesParams(t *testing.T) {
	_, r := setup(t)

	t.Run("limit out of range", func(t *testing.T) {
		if rr := do(r, http.MethodGet, "/v1/events?limit=5000"); rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rr.Code)
		}
	})

	t.Run("limit not a number", func(t *testing.T) {
		if rr := do(r, http.MethodGet, "/v1/events?limit=many"); rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("malformed type", func(t *testing.T) {
		if rr := do(r, http.MethodGet, "/v1/events?type=Not%20A%20Type"); rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rr.Code)
		}
	})

	t.Run("bad after timestamp", func(t *testing.T) {
		if rr := do(r, http.MethodGet, "/v1/events?after=yesterday"); rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("rfc3339 bounds accepted", func(t *testing.T) {
		after := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
		if rr := do(r, http.MethodGet, "/v1/events?after="+after); rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestGetEvent(t *testing.T) {
	store, r := setup(t)
	evt := seed(store, "audit.login")

	rr := do(r, http.MethodGet, "/v1/events/"+evt.EventID())
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	if rr := do(r, http.MethodGet, "/v1/events/nope"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rr.Code)
	}
}

func TestDeleteEvent(t *testing.T) {
	store, r := setup(t)
	evt := seed(store, "audit.login")

	if rr := do(r, http.MethodDelete, "/v1/events/"+evt.EventID()); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if _, ok := store.byID[evt.EventID()]; ok {
		t.Fatal("event still present after delete")
	}
	if rr := do(r, http.MethodDelete, "/v1/events/"+evt.EventID()); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rr.Code)
	}
}

func TestGetStats(t *testing.T) {
	store, r := setup(t)
	seed(store, "audit.login")

	rr := do(r, http.MethodGet, "/v1/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var stats eventstore.Stats
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalEvents != 1 {
		t.Fatalf("expected 1 event, got %d", stats.TotalEvents)
	}
}
