package reporter

import (
	"math"
	"strings"
	"time"

	"github.com/robotomize/browser-xunit/internal/registry"
	"github.com/robotomize/browser-xunit/internal/report"
)

// States reported by the host runner.
const (
	StateRunning = "running"
	StatePassing = "passing"
	StateFailing = "failing"
	StatePending = "pending"
)

// ClassSeparator joins the browser name with the suite or file name.
const ClassSeparator = "."

// TestError is the error detail of a failing test.
type TestError struct {
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// Test is a test case as reported by the host runner.
type Test struct {
	// Path is file, suite(s) and case title in order.
	Path  []string `json:"path"`
	State string   `json:"state,omitempty"`
	// Duration is in milliseconds.
	Duration float64    `json:"duration,omitempty"`
	Error    *TestError `json:"error,omitempty"`
}

// File returns the file the test belongs to.
func (t Test) File() (string, error) {
	if err := t.validate(); err != nil {
		return "", err
	}

	return t.Path[0], nil
}

func (t Test) validate() error {
	switch {
	case len(t.Path) == 0:
		return &MalformedEventError{Path: t.Path, Reason: "empty test path"}
	case len(t.Path) < 2:
		return &MalformedEventError{Path: t.Path, Reason: "test path has no suite"}
	default:
		return nil
	}
}

// SuiteName is the testsuite name of a browser and file pair. Two suites written
// at the same second still differ by it.
func SuiteName(b registry.Browser, file string) string {
	return b.Name + ClassSeparator + file
}

// Outcome converts a finished test into its recorded form.
func Outcome(b registry.Browser, t Test) (report.Outcome, error) {
	if err := t.validate(); err != nil {
		return report.Outcome{}, err
	}

	state, pending := NormalizeState(t.State)

	o := report.Outcome{
		ClassName: b.Name + ClassSeparator + t.Path[1],
		Title:     t.Path[len(t.Path)-1],
		State:     state,
		Pending:   pending,
		Duration:  milliseconds(t.Duration),
	}

	if state == report.StateFailed && t.Error != nil {
		o.Error = &report.Failure{Message: t.Error.Message, Stack: t.Error.Stack}
	}

	return o, nil
}

// NormalizeState maps a host state onto passed, failed or none.
func NormalizeState(state string) (report.State, bool) {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case StatePassing, "passed", "success":
		return report.StatePassed, false
	case StateFailing, "failed", "failure":
		return report.StateFailed, false
	case StatePending, "skipped", "skip":
		return report.StateNone, true
	default:
		return report.StateNone, false
	}
}

func milliseconds(ms float64) time.Duration {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms <= 0 {
		return 0
	}

	if ms >= float64(math.MaxInt64)/float64(time.Millisecond) {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(ms * float64(time.Millisecond))
}
