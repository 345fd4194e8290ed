package bundler

import (
	"errors"
	"fmt"
)

// ErrSpawnFailed wraps subprocess start failures.
var ErrSpawnFailed = errors.New("bundler spawn failed")

// ExitError reports a bundler subprocess that exited abnormally.
type ExitError struct {
	Platform string
	Code     int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("bundler for %s exited with code %d", e.Platform, e.Code)
}
