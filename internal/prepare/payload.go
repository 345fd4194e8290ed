package prepare

import (
	"time"

	"loom/internal/bundler"
)

// EventTypeReady identifies readiness events on the bus.
const EventTypeReady = "prepare_ready"

// ReadyPayload is the sole externally observable output of a readiness
// cycle. It is built fresh for every emission and never mutated after.
type ReadyPayload struct {
	Files                 []string         `json:"files"`
	HasNativeChanges      bool             `json:"hasNativeChanges"`
	HasOnlyHotUpdateFiles bool             `json:"hasOnlyHotUpdateFiles"`
	HMRData               *bundler.HMRData `json:"hmrData"`
	Platform              string           `json:"platform"`
}

// ReadyEvent wraps a ReadyPayload for the event bus.
type ReadyEvent struct {
	Payload    ReadyPayload `json:"payload"`
	OccurredAt time.Time    `json:"occurredAt"`
}

func (event ReadyEvent) Type() string {
	return EventTypeReady
}

func (event ReadyEvent) Timestamp() time.Time {
	return event.OccurredAt
}
