package events

import (
	"context"
	"time"
)

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "research_session.created").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

const (
	SessionCreated          = "research_session.created"
	SessionUpdated          = "research_session.updated"
	SessionConflictResolved = "research_session.conflict_resolved"
	SessionCleared          = "research_session.cleared"
	SessionMerged           = "research_session.merged"
	SessionShared           = "research_session.shared"
)

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// NewSessionEvent builds a research session event. Version is omitted from
// the payload when nil.
func NewSessionEvent(eventType, sessionId string, version *int, at time.Time) BaseEvent {
	data := map[string]interface{}{
		"session_id":  sessionId,
		"occurred_at": at.UTC().Format(time.RFC3339Nano),
	}
	if version != nil {
		data["version"] = *version
	}
	return BaseEvent{Type: eventType, Data: data, OccurredAt: at}
}

// Publisher delivers events to a bus. pkg/nats.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
