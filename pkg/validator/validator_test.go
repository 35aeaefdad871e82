package validator_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgvalidator "github.com/ghuser/eventcore/pkg/validator"
)

type eventFilter struct {
	EventID string `validate:"required,uuid"`
	Topic   string `validate:"required,min=1,max=10"`
	ReplyTo string `validate:"omitempty,email"`
}

func TestValidate_valid(t *testing.T) {
	s := eventFilter{
		EventID: "550e8400-e29b-41d4-a716-446655440000",
		Topic:  "hello",
	}
	if err := pkgvalidator.Validate(&s); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestValidate_missingRequired(t *testing.T) {
	s := eventFilter{}
	if err := pkgvalidator.Validate(&s); err == nil {
		t.Fatal("expected validation error for empty struct")
	}
}

func TestFormatValidationErrors_required(t *testing.T) {
	s := eventFilter{}
	err := pkgvalidator.Validate(&s)
	m := pkgvalidator.FormatValidationErrors(err)
	if m["EventID"] != "This field is required" {
		t.Errorf("unexpected EventID message: %q", m["EventID"])
	}
	if m["Topic"] != "This field is required" {
		t.Errorf("unexpected Topic message: %q", m["Topic"])
	}
}

func TestFormatValidationErrors_uuid(t *testing.T) {
	s := eventFilter{EventID: "not-a-uuid", Topic: "ok"}
	err := pkgvalidator.Validate(&s)
	m := pkgvalidator.FormatValidationErrors(err)
	if m["EventID"] != "Must be a valid UUID" {
		t.Errorf("unexpected EventID message: %q", m["EventID"])
	}
}

func TestFormatValidationErrors_min(t *testing.T) {
	s := eventFilter{EventID: "550e8400-e29b-41d4-a716-446655440000", Topic: ""}
	err := pkgvalidator.Validate(&s)
	m := pkgvalidator.FormatValidationErrors(err)
	// empty string fails "required" before "min"
	if _, ok := m["Topic"]; !ok {
		t.Error("expected Topic validation error")
	}
}

func TestFormatValidationErrors_max(t *testing.T) {
	s := eventFilter{EventID: "550e8400-e29b-41d4-a716-446655440000", Topic: "12345678901"} // 11 chars > max=10
	err := pkgvalidator.Validate(&s)
	m := pkgvalidator.FormatValidationErrors(err)
	if m["Topic"] != "Maximum length is 10" {
		t.Errorf("unexpected Topic message: %q", m["Topic"])
	}
}

func TestFormatValidationErrors_nonValidationError(t *testing.T) {
	m := pkgvalidator.FormatValidationErrors(http.ErrNoCookie)
	if len(m) != 0 {
		t.Errorf("expected empty map for non-validation error, got %v", m)
	}
}

// --- ValidateRequest ---

type reminderReq struct {
	EventID string `json:"event_id" validate:"required,uuid"`
	Topic   string `json:"topic"   validate:"required,min=1,max=255"`
}

func TestValidateRequest_valid(t *testing.T) {
	body := `{"event_id":"550e8400-e29b-41d4-a716-446655440000","topic":"order.placed"}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	req, ok := pkgvalidator.ValidateRequest[reminderReq](w, r)
	if !ok {
		t.Fatalf("expected ok=true, got false. Response: %s", w.Body.String())
	}
	if req.Topic != "order.placed" {
		t.Errorf("unexpected Topic: %q", req.Topic)
	}
}

func TestValidateRequest_invalidJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{bad json"))
	w := httptest.NewRecorder()

	_, ok := pkgvalidator.ValidateRequest[reminderReq](w, r)
	if ok {
		t.Fatal("expected ok=false for malformed JSON")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Invalid JSON") {
		t.Errorf("expected 'Invalid JSON' in body, got: %s", w.Body.String())
	}
}

func TestValidateRequest_missingField(t *testing.T) {
	body := `{"topic":"order.placed"}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	w := httptest.NewRecorder()

	_, ok := pkgvalidator.ValidateRequest[reminderReq](w, r)
	if ok {
		t.Fatal("expected ok=false for missing event_id")
	}
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Validation failed") {
		t.Errorf("expected 'Validation failed' in body, got: %s", w.Body.String())
	}
}

func TestValidateRequest_invalidUUID(t *testing.T) {
	body := `{"event_id":"not-uuid","topic":"order.placed"}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	w := httptest.NewRecorder()

	_, ok := pkgvalidator.ValidateRequest[reminderReq](w, r)
	if ok {
		t.Fatal("expected ok=false for invalid UUID")
	}
	if !strings.Contains(w.Body.String(), "UUID") {
		t.Errorf("expected UUID error in body, got: %s", w.Body.String())
	}
}

// --- eventtype tag ---

type subscription struct {
	Topic string `json:"topic" validate:"required,eventtype"`
}

func TestIsEventType(t *testing.T) {
	valid := []string{"order.placed", "reminder.requested", "a", "x-1.y_2", "a.b.c"}
	for _, s := range valid {
		if !pkgvalidator.IsEventType(s) {
			t.Errorf("expected %q to be a valid event type", s)
		}
	}

	invalid := []string{"", ".", "a.", ".b", "a..b", "Order.Placed", "order placed", "order/placed"}
	for _, s := range invalid {
		if pkgvalidator.IsEventType(s) {
			t.Errorf("expected %q to be rejected", s)
		}
	}
}

func TestValidate_eventtypeTag(t *testing.T) {
	if err := pkgvalidator.Validate(&subscription{Topic: "reminder.responded"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	err := pkgvalidator.Validate(&subscription{Topic: "Not A Topic"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	m := pkgvalidator.FormatValidationErrors(err)
	if m["topic"] != "Must be a dot-separated lowercase event type" {
		t.Errorf("unexpected message: %q", m["topic"])
	}
}
