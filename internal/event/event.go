package event

import (
	"errors"
	"fmt"

	"github.com/robotomize/browser-xunit/internal/registry"
	"github.com/robotomize/browser-xunit/internal/reporter"
)

const (
	TypeTestStart     = "test-start"
	TypeTestFinish    = "test-finish"
	TypeBrowserFinish = "browser-finish"
)

var (
	ErrUnknownType = errors.New("unknown event type")
	ErrNoBrowser   = errors.New("event has no browser id")
	ErrNoTest      = errors.New("test event has no test")
)

// Entry is one line of the event stream.
type Entry struct {
	Type    string           `json:"type"`
	Browser registry.Browser `json:"browser"`
	Test    *reporter.Test   `json:"test,omitempty"`
}

// Validate checks that the entry can be routed to a handler.
func (e Entry) Validate() error {
	switch e.Type {
	case TypeTestStart, TypeTestFinish:
		if e.Test == nil {
			return fmt.Errorf("%s: %w", e.Type, ErrNoTest)
		}
	case TypeBrowserFinish:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}

	if e.Browser.ID == "" {
		return fmt.Errorf("%s: %w", e.Type, ErrNoBrowser)
	}

	return nil
}
