package reporter

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedEvent is matched by every MalformedEventError.
var ErrMalformedEvent = errors.New("malformed event")

// MalformedEventError is returned for a test whose path cannot be split into
// file, suite and title.
type MalformedEventError struct {
	Path   []string
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("%s: %s: [%s]", ErrMalformedEvent, e.Reason, strings.Join(e.Path, " > "))
}

func (e *MalformedEventError) Unwrap() error {
	return ErrMalformedEvent
}
