package bundler

import "time"

const EventTypeCompilationComplete = "compilation_complete"

// HMRData carries the correlation hash and the full-reload fallback assets of
// one incremental compilation.
type HMRData struct {
	Hash          string   `json:"hash"`
	FallbackFiles []string `json:"fallbackFiles"`
}

// CompilationEvent is published once per watch-mode compilation that emitted
// output. File paths are absolute, resolved against the platform's output
// directory.
type CompilationEvent struct {
	Platform              string
	Files                 []string
	HasOnlyHotUpdateFiles bool
	HMRData               *HMRData
	OccurredAt            time.Time
}

func (e CompilationEvent) Type() string {
	return EventTypeCompilationComplete
}

func (e CompilationEvent) Timestamp() time.Time {
	return e.OccurredAt
}
