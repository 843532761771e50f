package reporter

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"testing/quick"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/robotomize/browser-xunit/internal/registry"
	"github.com/robotomize/browser-xunit/internal/slice"
)

var (
	baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b1       = registry.Browser{ID: "b1", Name: "B1", Version: "100"}
	b2       = registry.Browser{ID: "b2", Name: "B2", Version: "90"}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: baseTime}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type memoryPersister struct {
	mu   sync.Mutex
	docs map[string][]byte
	fail map[string]bool
}

func newMemoryPersister() *memoryPersister {
	return &memoryPersister{docs: make(map[string][]byte), fail: make(map[string]bool)}
}

func (m *memoryPersister) Persist(_ context.Context, b registry.Browser, file string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := b.Name + "/" + file
	if m.fail[key] {
		return errors.New("disk full")
	}

	if _, ok := m.docs[key]; ok {
		return fmt.Errorf("duplicate document %s", key)
	}

	m.docs[key] = content

	return nil
}

func (m *memoryPersister) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[key]

	return doc, ok
}

type junitTestSuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      string          `xml:"time,attr"`
	TestCases []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Classname string        `xml:"classname,attr"`
	Name      string        `xml:"name,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure"`
}

type junitFailure struct {
	Body string `xml:",chardata"`
}

func parseSuite(t *testing.T, content []byte) junitTestSuite {
	t.Helper()

	var suite junitTestSuite
	if err := xml.Unmarshal(content, &suite); err != nil {
		t.Fatalf("xml.Unmarshal: %v\n%s", err, content)
	}

	return suite
}

func newReporter(clock *fakeClock, persister Persister, opts ...Option) (*Reporter, *registry.Registry) {
	reg := registry.New()
	opts = append([]Option{WithClock(clock.Now)}, opts...)

	return New(reg, persister, opts...), reg
}

func TestReporter_SingleFileScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	persister := newMemoryPersister()
	r, _ := newReporter(clock, persister)

	case1 := Test{Path: []string{"a.js", "suite", "case1"}}
	case2 := Test{Path: []string{"a.js", "suite", "case2"}}

	if err := r.TestStarted(ctx, b1, case1); err != nil {
		t.Fatalf("TestStarted: %v", err)
	}
	clock.Advance(10 * time.Millisecond)
	case1.State, case1.Duration = StatePassing, 10
	if err := r.TestFinished(ctx, b1, case1); err != nil {
		t.Fatalf("TestFinished: %v", err)
	}

	if err := r.TestStarted(ctx, b1, case2); err != nil {
		t.Fatalf("TestStarted: %v", err)
	}
	clock.Advance(5 * time.Millisecond)
	case2.State, case2.Duration = StateFailing, 5
	case2.Error = &TestError{Message: "expected true, got false"}
	if err := r.TestFinished(ctx, b1, case2); err != nil {
		t.Fatalf("TestFinished: %v", err)
	}

	if diff := cmp.Diff(1, len(r.Open())); diff != "" {
		t.Errorf("open groups mismatch (-want, +got):\n%s", diff)
	}

	if err := r.BrowserFinished(ctx, b1); err != nil {
		t.Fatalf("BrowserFinished: %v", err)
	}

	doc, ok := persister.get("B1/a.js")
	if !ok {
		t.Fatalf("got: no document, want: B1/a.js")
	}

	wantOpen := `<testsuite name="B1.a.js" tests="2" failures="1" errors="1" skipped="0" timestamp="2024-03-01T12:00:00" time="0.015">`
	if !strings.Contains(string(doc), wantOpen) {
		t.Errorf("got: %s, want: %s", doc, wantOpen)
	}

	if !strings.Contains(string(doc), "<failure message=\"expected true, got false\"><![CDATA[expected true, got false]]></failure>") {
		t.Errorf("got: %s, want failure with CDATA message", doc)
	}

	expected := []junitTestCase{
		{Classname: "B1.suite", Name: "case1", Time: "0.01"},
		{Classname: "B1.suite", Name: "case2", Time: "0.005", Failure: &junitFailure{Body: "expected true, got false"}},
	}

	if diff := cmp.Diff(expected, parseSuite(t, doc).TestCases); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}

	if diff := cmp.Diff(0, len(r.Open())); diff != "" {
		t.Errorf("open groups mismatch (-want, +got):\n%s", diff)
	}

	expectedSummary := []Summary{{Browser: b1, Files: 1, Tests: 2, Passes: 1, Failures: 1}}
	if diff := cmp.Diff(expectedSummary, r.Summaries()); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestReporter_Cutover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	r, reg := newReporter(clock, newMemoryPersister())

	steps := []struct {
		path    []string
		advance time.Duration
	}{
		{path: []string{"a.js", "s", "1"}, advance: 100 * time.Millisecond},
		{path: []string{"a.js", "s", "2"}, advance: 200 * time.Millisecond},
		{path: []string{"b.js", "s", "1"}, advance: 50 * time.Millisecond},
	}

	for _, step := range steps {
		tc := Test{Path: step.path}
		if err := r.TestStarted(ctx, b1, tc); err != nil {
			t.Fatalf("TestStarted: %v", err)
		}
		clock.Advance(step.advance)
		tc.State = StatePassing
		if err := r.TestFinished(ctx, b1, tc); err != nil {
			t.Fatalf("TestFinished: %v", err)
		}
	}

	groups := reg.AllFor(b1)
	if diff := cmp.Diff(2, len(groups)); diff != "" {
		t.Fatalf("mismatch (-want, +got):\n%s", diff)
	}

	first := groups[0].Accumulator.Stats()
	if !first.Closed() {
		t.Fatalf("got: open, want: a.js closed by cutover")
	}

	if diff := cmp.Diff(300*time.Millisecond, first.Duration); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}

	second := groups[1].Accumulator.Stats()
	if second.Closed() {
		t.Errorf("got: closed, want: last group open until browser finish")
	}

	// returning to a.js closes b.js and leaves a.js untouched
	clock.Advance(time.Second)
	if err := r.TestStarted(ctx, b1, Test{Path: []string{"a.js", "s", "3"}}); err != nil {
		t.Fatalf("TestStarted: %v", err)
	}

	if diff := cmp.Diff(first, groups[0].Accumulator.Stats()); diff != "" {
		t.Errorf("closed group changed (-want, +got):\n%s", diff)
	}

	if diff := cmp.Diff(1050*time.Millisecond, groups[1].Accumulator.Stats().Duration); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestReporter_InterleavedBrowsers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	persister := newMemoryPersister()
	r, reg := newReporter(clock, persister)

	events := []struct {
		browser registry.Browser
		path    []string
	}{
		{browser: b1, path: []string{"a.js", "s", "1"}},
		{browser: b2, path: []string{"x.js", "s", "1"}},
		{browser: b1, path: []string{"a.js", "s", "2"}},
		{browser: b2, path: []string{"x.js", "s", "2"}},
	}

	for _, e := range events {
		tc := Test{Path: e.path, State: StatePassing}
		if err := r.TestStarted(ctx, e.browser, tc); err != nil {
			t.Fatalf("TestStarted: %v", err)
		}
		clock.Advance(time.Millisecond)
		if err := r.TestFinished(ctx, e.browser, tc); err != nil {
			t.Fatalf("TestFinished: %v", err)
		}
	}

	for _, b := range []registry.Browser{b1, b2} {
		for _, g := range reg.AllFor(b) {
			if g.Accumulator.Stats().Closed() {
				t.Errorf("got: %s/%s closed by another browser's events", b.Name, g.File)
			}
		}
	}

	if err := r.BrowserFinished(ctx, b2); err != nil {
		t.Fatalf("BrowserFinished: %v", err)
	}

	if _, ok := persister.get("B1/a.js"); ok {
		t.Errorf("got: B1/a.js persisted, want: only B2 flushed")
	}

	suite := parseSuite(t, mustGet(t, persister, "B2/x.js"))
	if diff := cmp.Diff(2, suite.Tests); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func mustGet(t *testing.T, persister *memoryPersister, key string) []byte {
	t.Helper()

	doc, ok := persister.get(key)
	if !ok {
		t.Fatalf("got: no document, want: %s", key)
	}

	return doc
}

func TestReporter_FinishWithoutStart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persister := newMemoryPersister()
	r, _ := newReporter(newFakeClock(), persister)

	if err := r.TestFinished(ctx, b1, Test{Path: []string{"a.js", "s", "1"}, State: StatePending}); err != nil {
		t.Fatalf("TestFinished: %v", err)
	}

	if err := r.BrowserFinished(ctx, b1); err != nil {
		t.Fatalf("BrowserFinished: %v", err)
	}

	suite := parseSuite(t, mustGet(t, persister, "B1/a.js"))
	if diff := cmp.Diff(1, suite.Skipped); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}

	if suite.TestCases[0].Failure != nil {
		t.Errorf("got: failure on pending case, want: none")
	}
}

func TestReporter_Malformed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, reg := newReporter(newFakeClock(), newMemoryPersister())

	testCases := []struct {
		name string
		path []string
	}{
		{name: "test_nil_path"},
		{name: "test_file_only", path: []string{"a.js"}},
	}

	for _, tc := range testCases {
		if err := r.TestStarted(ctx, b1, Test{Path: tc.path}); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("%s TestStarted got: %v, want: %v", tc.name, err, ErrMalformedEvent)
		}

		err := r.TestFinished(ctx, b1, Test{Path: tc.path})
		var malformed *MalformedEventError
		if !errors.As(err, &malformed) {
			t.Fatalf("%s TestFinished got: %v, want: MalformedEventError", tc.name, err)
		}

		if diff := cmp.Diff(tc.path, malformed.Path); diff != "" {
			t.Errorf("mismatch (-want, +got):\n%s", diff)
		}
	}

	if got := reg.AllFor(b1); len(got) != 0 {
		t.Errorf("got: %d groups, want: 0", len(got))
	}

	// a valid event after malformed ones still works
	if err := r.TestFinished(ctx, b1, Test{Path: []string{"a.js", "s"}, State: StatePassing}); err != nil {
		t.Errorf("TestFinished: %v", err)
	}
}

func TestReporter_BrowserFinishedOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persister := newMemoryPersister()
	r, _ := newReporter(newFakeClock(), persister)

	if err := r.TestFinished(ctx, b1, Test{Path: []string{"a.js", "s", "1"}, State: StatePassing}); err != nil {
		t.Fatalf("TestFinished: %v", err)
	}

	if err := r.BrowserFinished(ctx, b1); err != nil {
		t.Fatalf("BrowserFinished: %v", err)
	}

	if err := r.BrowserFinished(ctx, b1); !errors.Is(err, registry.ErrBrowserFinished) {
		t.Errorf("got: %v, want: %v", err, registry.ErrBrowserFinished)
	}

	err := r.TestFinished(ctx, b1, Test{Path: []string{"a.js", "s", "2"}, State: StatePassing})
	if !errors.Is(err, registry.ErrBrowserFinished) {
		t.Errorf("got: %v, want: %v", err, registry.ErrBrowserFinished)
	}

	suite := parseSuite(t, mustGet(t, persister, "B1/a.js"))
	if diff := cmp.Diff(1, len(suite.TestCases)); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestReporter_PersistFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persister := newMemoryPersister()
	persister.fail["B1/b.js"] = true

	logger, hook := test.NewNullLogger()
	r, _ := newReporter(newFakeClock(), persister, WithLogger(logger), WithParallelism(1))

	for _, file := range []string{"a.js", "b.js", "c.js"} {
		tc := Test{Path: []string{file, "s", "1"}, State: StateFailing}
		if err := r.TestStarted(ctx, b1, tc); err != nil {
			t.Fatalf("TestStarted: %v", err)
		}
		if err := r.TestFinished(ctx, b1, tc); err != nil {
			t.Fatalf("TestFinished: %v", err)
		}
	}

	err := r.BrowserFinished(ctx, b1)
	if err == nil || !strings.Contains(err.Error(), "B1.b.js") {
		t.Errorf("got: %v, want: persist error for B1.b.js", err)
	}

	for _, key := range []string{"B1/a.js", "B1/c.js"} {
		if _, ok := persister.get(key); !ok {
			t.Errorf("got: no document, want: %s", key)
		}
	}

	entry, ok := slice.Find(
		hook.AllEntries(), func(e *logrus.Entry) bool {
			return e.Level == logrus.ErrorLevel
		},
	)
	if !ok {
		t.Fatalf("got: no error log, want: persist failure logged")
	}

	if diff := cmp.Diff("b.js", entry.Data["file"]); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}

	if diff := cmp.Diff(1, r.Summaries()[0].PersistErrors); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestReporter_FlushUnfinished(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persister := newMemoryPersister()
	logger, hook := test.NewNullLogger()
	r, reg := newReporter(newFakeClock(), persister, WithLogger(logger))

	for _, b := range []registry.Browser{b1, b2} {
		if err := r.TestFinished(ctx, b, Test{Path: []string{"a.js", "s", "1"}, State: StatePassing}); err != nil {
			t.Fatalf("TestFinished: %v", err)
		}
	}

	if err := r.BrowserFinished(ctx, b1); err != nil {
		t.Fatalf("BrowserFinished: %v", err)
	}

	if diff := cmp.Diff([]registry.Browser{b2}, reg.Unfinished()); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}

	if err := r.FlushUnfinished(ctx); err != nil {
		t.Fatalf("FlushUnfinished: %v", err)
	}

	mustGet(t, persister, "B2/a.js")

	if _, ok := slice.Find(
		hook.AllEntries(), func(e *logrus.Entry) bool {
			return e.Level == logrus.WarnLevel && e.Data["browser"] == "B2"
		},
	); !ok {
		t.Errorf("got: no warning, want: unfinished browser warning")
	}

	if got := reg.Unfinished(); len(got) != 0 {
		t.Errorf("got: %v, want: none", got)
	}
}

func TestReporter_CountsProperty(t *testing.T) {
	t.Parallel()

	states := []string{StatePassing, StateFailing, StatePending, StateRunning, "disconnected"}

	property := func(seed int64, n uint8) bool {
		ctx := context.Background()
		rnd := rand.New(rand.NewSource(seed))
		r, reg := newReporter(newFakeClock(), newMemoryPersister())

		for i := 0; i < int(n); i++ {
			tc := Test{
				Path:  []string{"a.js", "s", fmt.Sprint(i)},
				State: states[rnd.Intn(len(states))],
			}

			if rnd.Intn(2) == 0 {
				if err := r.TestStarted(ctx, b1, tc); err != nil {
					return false
				}
			}

			if err := r.TestFinished(ctx, b1, tc); err != nil {
				return false
			}
		}

		groups := reg.AllFor(b1)
		if n == 0 {
			return len(groups) == 0
		}

		stats := groups[0].Accumulator.Stats()

		return len(groups) == 1 &&
			stats.Tests == int(n) &&
			stats.Passes+stats.Failures <= stats.Tests &&
			stats.Skipped() >= 0
	}

	if err := quick.Check(property, nil); err != nil {
		t.Error(err)
	}
}
