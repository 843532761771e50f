package registry

import (
	"errors"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/robotomize/browser-xunit/internal/report"
)

// ErrBrowserFinished is returned for a browser whose reports were already flushed.
var ErrBrowserFinished = errors.New("browser already finished")

// Browser identifies one running browser instance.
type Browser struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// Group is one accumulator together with its key.
type Group struct {
	Browser     Browser
	File        string
	Accumulator *report.Accumulator
}

type cursor struct {
	file        string
	accumulator *report.Accumulator
}

type browserEntry struct {
	mu       sync.Mutex
	browser  Browser
	files    *orderedmap.OrderedMap[string, *report.Accumulator]
	cursor   cursor
	finished bool
}

func (e *browserEntry) getOrCreate(file string, now time.Time) *report.Accumulator {
	if acc, ok := e.files.Get(file); ok {
		return acc
	}

	acc := report.New(now)
	e.files.Set(file, acc)

	return acc
}

func (e *browserEntry) groups() []Group {
	groups := make([]Group, 0, e.files.Len())
	for pair := e.files.Oldest(); pair != nil; pair = pair.Next() {
		groups = append(
			groups, Group{
				Browser:     e.browser,
				File:        pair.Key,
				Accumulator: pair.Value,
			},
		)
	}

	return groups
}

// Registry maps browser and file pairs to accumulators. Entries are created on
// first reference and live for the whole run. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	browsers *orderedmap.OrderedMap[string, *browserEntry]
}

func New() *Registry {
	return &Registry{browsers: orderedmap.New[string, *browserEntry]()}
}

func (r *Registry) entry(b Browser) *browserEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.browsers.Get(b.ID); ok {
		return e
	}

	e := &browserEntry{
		browser: b,
		files:   orderedmap.New[string, *report.Accumulator](),
	}
	r.browsers.Set(b.ID, e)

	return e
}

func (r *Registry) lookup(b Browser) (*browserEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.browsers.Get(b.ID)
}

func (r *Registry) entries() []*browserEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*browserEntry, 0, r.browsers.Len())
	for pair := r.browsers.Oldest(); pair != nil; pair = pair.Next() {
		entries = append(entries, pair.Value)
	}

	return entries
}

// GetOrCreate returns the accumulator for the browser and file, creating it with
// start time now when absent.
func (r *Registry) GetOrCreate(b Browser, file string, now time.Time) (*report.Accumulator, error) {
	e := r.entry(b)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished {
		return nil, ErrBrowserFinished
	}

	return e.getOrCreate(file, now), nil
}

// Advance moves the browser's cursor to file. The previous accumulator is
// returned only when the cursor moved away from another file.
func (r *Registry) Advance(b Browser, file string, now time.Time) (current, previous *report.Accumulator, err error) {
	e := r.entry(b)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished {
		return nil, nil, ErrBrowserFinished
	}

	current = e.getOrCreate(file, now)
	if e.cursor.accumulator != nil && e.cursor.file != file {
		previous = e.cursor.accumulator
	}

	e.cursor = cursor{file: file, accumulator: current}

	return current, previous, nil
}

// AllFor returns every group of the browser in creation order.
func (r *Registry) AllFor(b Browser) []Group {
	e, ok := r.lookup(b)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.groups()
}

// Finish marks the browser as finished and returns its groups in creation order.
// It succeeds once per browser; afterwards the browser's groups are read-only.
func (r *Registry) Finish(b Browser) ([]Group, error) {
	e := r.entry(b)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished {
		return nil, ErrBrowserFinished
	}

	e.finished = true
	e.cursor = cursor{}

	return e.groups(), nil
}

// Finished reports whether Finish was called for the browser.
func (r *Registry) Finished(b Browser) bool {
	e, ok := r.lookup(b)
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.finished
}

// Browsers returns the known browsers in first seen order.
func (r *Registry) Browsers() []Browser {
	entries := r.entries()

	browsers := make([]Browser, 0, len(entries))
	for _, e := range entries {
		browsers = append(browsers, e.browser)
	}

	return browsers
}

// Open returns the groups across all browsers whose timing window is not closed yet.
func (r *Registry) Open() []Group {
	var open []Group
	for _, e := range r.entries() {
		e.mu.Lock()
		for _, g := range e.groups() {
			if !g.Accumulator.Stats().Closed() {
				open = append(open, g)
			}
		}
		e.mu.Unlock()
	}

	return open
}

// Unfinished returns the browsers Finish was never called for.
func (r *Registry) Unfinished() []Browser {
	var browsers []Browser
	for _, e := range r.entries() {
		e.mu.Lock()
		if !e.finished {
			browsers = append(browsers, e.browser)
		}
		e.mu.Unlock()
	}

	return browsers
}
