package types

import "time"

// Event represents a typed event emitted during state transitions. Attribute
// values are rendered strings so events can be stored and streamed without
// knowing the concrete producer type.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return &Event{Type: e.Type, Attributes: attrs}
}

// Attr returns the attribute value or an empty string.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// EventRecord is a committed event together with its position in the commit
// stream.
type EventRecord struct {
	ID          string    `json:"id"`
	Sequence    uint64    `json:"sequence"`
	Index       int       `json:"index"`
	Operation   string    `json:"operation"`
	Event       *Event    `json:"event"`
	CommittedAt time.Time `json:"committed_at"`
}
