// Package events provides the lifecycle event fan-out hub for the service.
//
// Events are ephemeral: they are broadcast once to whatever subscribers are
// attached at publish time and are never persisted or replayed. Each domain
// (render jobs, ingest runs) owns its own Broadcaster instance so events
// never cross-deliver.
package events

import (
	"encoding/json"
	"time"
)

// Event is a single lifecycle notification.
//
// Data is marshaled at construction time, so subscribers always observe a
// snapshot of the record as it was when the event fired, never a live
// reference that could mutate underneath them.
type Event struct {
	// Kind identifies the lifecycle change (e.g., "job.created").
	Kind string `json:"type"`

	// TS is when the event was created (UTC).
	TS time.Time `json:"ts"`

	// Data is the type-specific payload snapshot.
	Data json.RawMessage `json:"data"`
}

// New builds an Event with the payload marshaled immediately.
func New(kind string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Kind: kind,
		TS:   time.Now().UTC(),
		Data: data,
	}, nil
}
