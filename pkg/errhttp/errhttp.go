// Package errhttp maps core error types to HTTP status codes for the ops API.
// Add a case to mapErrorToStatus for each new error surface.
package errhttp

import (
	"errors"
	"net/http"

	"github.com/ghuser/eventcore/pkg/events"
	"github.com/ghuser/eventcore/pkg/eventstore"
	"github.com/ghuser/eventcore/pkg/httpx"
	"github.com/ghuser/eventcore/pkg/suspend"
)

// ErrNotFound is the sentinel the ops handlers use for a missing event.
var ErrNotFound = errors.New("event not found")

// WriteError maps err to an HTTP status code and writes a JSON error response.
// Uses errors.Is/As so wrapped errors are matched correctly.
// Defaults to 500 Internal Server Error for unrecognized errors.
func WriteError(w http.ResponseWriter, err error) {
	httpx.JSONError(w, mapErrorToStatus(err), err.Error())
}

func mapErrorToStatus(err error) int {
	var (
		connErr    *eventstore.ConnectionError
		unknownErr *events.UnknownTypeError
		decodeErr  *events.DeserializationError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound // 404
	case errors.As(err, &connErr):
		return http.StatusServiceUnavailable // 503
	case errors.Is(err, suspend.ErrTimeout):
		return http.StatusGatewayTimeout // 504
	case errors.Is(err, suspend.ErrCancelled):
		return http.StatusConflict // 409
	case errors.As(err, &unknownErr), errors.As(err, &decodeErr):
		// Stored payload that cannot be reconstructed: a server-side data
		// problem, not a client mistake.
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}
