package session

import "context"

// EventType names a session lifecycle change pushed to connected clients.
type EventType string

const (
	// EventReplaced is emitted when a login overwrites the subject's session.
	EventReplaced EventType = "session.replaced"
	// EventEnded is emitted on logout and forced invalidation.
	EventEnded EventType = "session.ended"
)

// Event is a session lifecycle notification.
type Event struct {
	Type      EventType
	SubjectID string
	Reason    string
}

// EventSink receives session events. Publish must not block.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) {}
