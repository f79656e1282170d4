package core

import "time"

// Event is one recorded access entry. Events are written by an external
// ingester and never modified by the detection paths.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Status    string    `json:"status"`
}

// FieldValue returns the value of an allow-listed categorical field.
func (e *Event) FieldValue(f Field) (string, bool) {
	switch f {
	case FieldActorID:
		return e.ActorID, true
	case FieldAction:
		return e.Action, true
	case FieldResource:
		return e.Resource, true
	case FieldStatus:
		return e.Status, true
	default:
		return "", false
	}
}
