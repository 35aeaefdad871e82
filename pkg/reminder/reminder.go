// Package reminder implements the request/response workflow on top of the
// suspension manager: publish a reminder request, wait for the correlated
// response, with priority-driven default timeouts.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ghuser/eventcore/pkg/eventbus"
	"github.com/ghuser/eventcore/pkg/events"
	"github.com/ghuser/eventcore/pkg/logger"
	"github.com/ghuser/eventcore/pkg/suspend"
)

// Priority drives the default timeout of a reminder: the more urgent the
// request, the less time we are willing to wait for an answer.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// DefaultTimeout returns the priority's default wait. Unknown priorities get
// the normal default.
func (p Priority) DefaultTimeout() time.Duration {
	switch p {
	case PriorityCritical:
		return 10 * time.Second
	case PriorityHigh:
		return 30 * time.Second
	case PriorityLow:
		return 2 * time.Minute
	default:
		return time.Minute
	}
}

// Request describes a reminder to send.
type Request struct {
	Prompt   string   `json:"prompt" validate:"required"`
	Priority Priority `json:"priority" validate:"omitempty,oneof=low normal high critical"`
	// Timeout overrides the priority's default when positive.
	Timeout  time.Duration     `json:"-"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Response is what a reminder ultimately resolves to.
type Response struct {
	ReminderID string         `json:"reminder_id"`
	Status     string         `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Manager sends reminders and matches their responses by reminder id.
type Manager struct {
	bus      *eventbus.Bus
	susp     *suspend.Manager
	validate *validator.Validate
	log      logger.Logger

	subscribeOnce sync.Once
}

// NewManager creates a reminder manager on top of the given bus and
// suspension manager.
func NewManager(bus *eventbus.Bus, susp *suspend.Manager, log logger.Logger) (*Manager, error) {
	if bus == nil {
		return nil, errors.New("reminder: bus is required")
	}
	if susp == nil {
		return nil, errors.New("reminder: suspension manager is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		bus:      bus,
		susp:     susp,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}, nil
}

// Send publishes a reminder request and blocks until the matching response
// arrives, the priority-derived (or overridden) timeout passes, or ctx is
// done. A timed-out reminder comes back as suspend.ErrTimeout, distinct from
// transport and store failures, so callers can decide to retry, escalate
// priority, or give up.
func (m *Manager) Send(ctx context.Context, req Request) (*Response, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("reminder: invalid request: %w", err)
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = req.Priority.DefaultTimeout()
	}

	// The response listener must be in place before the first request goes
	// out, or an immediate answer could race past us.
	m.subscribeOnce.Do(func() {
		m.bus.Subscribe(TopicResponded, m.handleResponse)
	})

	reminderID := uuid.NewString()
	s, err := m.susp.Suspend(reminderID, timeout)
	if err != nil {
		return nil, fmt.Errorf("reminder: suspend %s: %w", reminderID, err)
	}

	evt := NewRequestedEvent(reminderID, req)
	if _, err := m.bus.Publish(ctx, evt); err != nil {
		m.susp.Cancel(reminderID)
		// Drain the cancellation so the suspension does not linger.
		_, _ = s.Await(ctx)
		return nil, fmt.Errorf("reminder: publish request %s: %w", reminderID, err)
	}

	m.log.DebugContext(ctx, "reminder sent",
		"reminder_id", reminderID,
		"priority", req.Priority,
		"timeout", timeout)

	value, err := s.Await(ctx)
	if err != nil {
		return nil, err
	}
	resp, ok := value.(*Response)
	if !ok {
		return nil, fmt.Errorf("reminder: unexpected resolution type %T for %s", value, reminderID)
	}
	return resp, nil
}

// Cancel abandons a pending reminder. The waiting Send returns
// *suspend.CancelledError.
func (m *Manager) Cancel(reminderID string) bool {
	return m.susp.Cancel(reminderID)
}

// handleResponse matches a response event to its pending reminder by the
// carried reminder id. Responses for unknown or already-settled reminders
// (late answers after a timeout) are dropped with a debug log.
func (m *Manager) handleResponse(ctx context.Context, evt events.Event) error {
	re, ok := evt.(*RespondedEvent)
	if !ok {
		return fmt.Errorf("reminder: unexpected event type %T on %s", evt, TopicResponded)
	}

	resp := &Response{
		ReminderID: re.ReminderID,
		Status:     re.Status,
		Result:     re.Result,
		ReceivedAt: re.OccurredAt(),
	}
	if !m.susp.Resolve(re.ReminderID, resp) {
		m.log.DebugContext(ctx, "reminder response without pending waiter",
			"reminder_id", re.ReminderID)
	}
	return nil
}
