package report

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadySerialized is returned by Serialize for an accumulator that was already serialized.
var ErrAlreadySerialized = errors.New("report already serialized")

// State is the normalized outcome of a test case.
type State string

const (
	StateNone   State = ""
	StatePassed State = "passed"
	StateFailed State = "failed"
)

// Failure is the error detail of a failed test case.
type Failure struct {
	Message string
	Stack   string
}

// Outcome is a recorded test case. It is never modified once recorded.
type Outcome struct {
	ClassName string
	Title     string
	State     State
	Pending   bool
	Duration  time.Duration
	Error     *Failure
}

// Stats is the summary block of a report.
type Stats struct {
	Tests    int
	Passes   int
	Failures int
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// Closed reports whether the timing window was closed.
func (s Stats) Closed() bool {
	return !s.End.IsZero()
}

// Skipped returns the number of tests that neither passed nor failed.
// It is negative only when the counters are inconsistent.
func (s Stats) Skipped() int {
	return s.Tests - s.Passes - s.Failures
}

// Accumulator collects the outcomes of one browser and file pair.
type Accumulator struct {
	mu         sync.Mutex
	stats      Stats
	outcomes   []Outcome
	serialized bool
}

func New(now time.Time) *Accumulator {
	return &Accumulator{stats: Stats{Start: now}}
}

// Record appends an outcome and updates the counters.
func (a *Accumulator) Record(o Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.outcomes = append(a.outcomes, o)
	a.stats.Tests++

	switch o.State {
	case StatePassed:
		a.stats.Passes++
	case StateFailed:
		a.stats.Failures++
	default:
	}
}

// Close ends the timing window at now. It returns false if the window was already closed.
func (a *Accumulator) Close(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.close(now)
}

func (a *Accumulator) close(now time.Time) bool {
	if a.stats.Closed() {
		return false
	}

	// End must stay non-zero to mark the window as closed.
	if now.IsZero() || now.Before(a.stats.Start) {
		now = a.stats.Start
	}

	a.stats.End = now
	a.stats.Duration = now.Sub(a.stats.Start)

	return true
}

func (a *Accumulator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.stats
}

func (a *Accumulator) Outcomes() []Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	outcomes := make([]Outcome, len(a.outcomes))
	copy(outcomes, a.outcomes)

	return outcomes
}

func (a *Accumulator) Serialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.serialized
}

// Serialize renders the accumulator as a testsuite document named name.
// An accumulator that is still open is closed at now first, which is reported
// through Document.ImplicitClose. Serialize succeeds only once.
func (a *Accumulator) Serialize(name string, now time.Time) (Document, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.serialized {
		return Document{}, ErrAlreadySerialized
	}

	implicit := a.close(now)
	a.serialized = true

	doc := Render(name, a.stats, a.outcomes, now)
	doc.ImplicitClose = implicit

	return doc, nil
}
