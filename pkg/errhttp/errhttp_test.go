package errhttp_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ghuser/eventcore/pkg/errhttp"
	"github.com/ghuser/eventcore/pkg/events"
	"github.com/ghuser/eventcore/pkg/eventstore"
	"github.com/ghuser/eventcore/pkg/suspend"
)

func writeAndDecode(t *testing.T, err error) (int, map[string]string) {
	t.Helper()
	rr := httptest.NewRecorder()
	errhttp.WriteError(rr, err)

	var body map[string]string
	if decodeErr := json.NewDecoder(rr.Body).Decode(&body); decodeErr != nil {
		t.Fatalf("decode response: %v", decodeErr)
	}
	return rr.Code, body
}

func TestWriteError_NotFound(t *testing.T) {
	code, body := writeAndDecode(t, fmt.Errorf("%w: abc", errhttp.ErrNotFound))
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if body["error"] == "" {
		t.Error("expected error message in body")
	}
}

func TestWriteError_ConnectionError(t *testing.T) {
	err := &eventstore.ConnectionError{Err: errors.New("dial tcp: refused")}
	code, _ := writeAndDecode(t, fmt.Errorf("eventstore: load: %w", err))
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

func TestWriteError_SuspensionTimeout(t *testing.T) {
	err := &suspend.TimeoutError{CorrelationID: "r1", Timeout: time.Second}
	code, _ := writeAndDecode(t, err)
	if code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", code)
	}
}

func TestWriteError_SuspensionCancelled(t *testing.T) {
	err := &suspend.CancelledError{CorrelationID: "r1"}
	code, _ := writeAndDecode(t, err)
	if code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
}

func TestWriteError_UnknownEventType(t *testing.T) {
	code, _ := writeAndDecode(t, &events.UnknownTypeError{Type: "ghost.event"})
	if code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
}

func TestWriteError_Unrecognized(t *testing.T) {
	code, _ := writeAndDecode(t, errors.New("boom"))
	if code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
}
