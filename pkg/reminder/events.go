package reminder

import (
	"github.com/ghuser/eventcore/pkg/events"
)

// Topics for the reminder request/response event pair. The reminder id is
// the correlation id shared between the two.
const (
	TopicRequested = "reminder.requested"
	TopicResponded = "reminder.responded"
)

// RequestedEvent is published when a reminder is sent. A handler (local or
// remote) is expected to answer with a RespondedEvent carrying the same
// reminder id.
type RequestedEvent struct {
	events.Base
	ReminderID string   `json:"reminder_id"`
	Prompt     string   `json:"prompt"`
	Priority   Priority `json:"priority"`
}

// NewRequestedEvent builds the request event. The reminder id doubles as the
// event's aggregate id so all events of one reminder group together in the store.
func NewRequestedEvent(reminderID string, req Request) *RequestedEvent {
	return &RequestedEvent{
		Base: events.NewBase(TopicRequested,
			events.WithAggregateID(reminderID),
			events.WithMetadata(req.Metadata),
		),
		ReminderID: reminderID,
		Prompt:     req.Prompt,
		Priority:   req.Priority,
	}
}

// RespondedEvent answers a RequestedEvent.
type RespondedEvent struct {
	events.Base
	ReminderID string         `json:"reminder_id"`
	Status     string         `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
}

// NewRespondedEvent builds the response event for the given reminder id.
func NewRespondedEvent(reminderID, status string, result map[string]any) *RespondedEvent {
	return &RespondedEvent{
		Base:       events.NewBase(TopicResponded, events.WithAggregateID(reminderID)),
		ReminderID: reminderID,
		Status:     status,
		Result:     result,
	}
}

// RegisterEvents wires the reminder event factories into the registry.
func RegisterEvents(r *events.Registry) {
	r.MustRegister(TopicRequested, newRequested)
	r.MustRegister(TopicResponded, newResponded)
}

func newRequested() events.Event { return &RequestedEvent{} }
func newResponded() events.Event { return &RespondedEvent{} }
