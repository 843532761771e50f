package reporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/robotomize/browser-xunit/internal/registry"
	"github.com/robotomize/browser-xunit/internal/report"
)

// Persister stores one serialized document of a browser and file pair.
type Persister interface {
	Persist(ctx context.Context, browser registry.Browser, file string, content []byte) error
}

// Observer receives the reporter's accounting.
type Observer interface {
	ObserveOutcome(browser registry.Browser, o report.Outcome)
	ObserveSuite(browser registry.Browser, doc report.Document)
	ObserveMalformed()
	ObservePersist(browser registry.Browser, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveOutcome(registry.Browser, report.Outcome) {}

func (nopObserver) ObserveSuite(registry.Browser, report.Document) {}

func (nopObserver) ObserveMalformed() {}

func (nopObserver) ObservePersist(registry.Browser, error) {}

// Summary is the result of flushing one browser.
type Summary struct {
	Browser       registry.Browser
	Files         int
	Tests         int
	Passes        int
	Failures      int
	Skipped       int
	PersistErrors int
}

type Option func(options *Options)

type Options struct {
	logger      logrus.FieldLogger
	observer    Observer
	clock       func() time.Time
	parallelism int
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(options *Options) {
		options.logger = logger
	}
}

func WithObserver(observer Observer) Option {
	return func(options *Options) {
		options.observer = observer
	}
}

// WithClock replaces time.Now as the source of group start and end times.
func WithClock(clock func() time.Time) Option {
	return func(options *Options) {
		options.clock = clock
	}
}

// WithParallelism limits how many documents of one browser are persisted at once.
func WithParallelism(n int) Option {
	return func(options *Options) {
		if n > 0 {
			options.parallelism = n
		}
	}
}

// Reporter turns test lifecycle events into per browser and file reports.
// It is safe for concurrent use by different browsers' event streams.
type Reporter struct {
	opts      Options
	registry  *registry.Registry
	persister Persister

	mu        sync.Mutex
	summaries []Summary
}

func New(reg *registry.Registry, persister Persister, opts ...Option) *Reporter {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	r := Reporter{
		registry:  reg,
		persister: persister,
		opts: Options{
			logger:      discard,
			observer:    nopObserver{},
			clock:       time.Now,
			parallelism: runtime.NumCPU(),
		},
	}

	for _, o := range opts {
		o(&r.opts)
	}

	return &r
}

func (r *Reporter) log(b registry.Browser) logrus.FieldLogger {
	return r.opts.logger.WithFields(
		logrus.Fields{
			"browser": b.Name,
			"version": b.Version,
		},
	)
}

// TestStarted selects the test's group as the browser's current one. When the
// group changes, the previous group's timing window ends now.
func (r *Reporter) TestStarted(_ context.Context, b registry.Browser, t Test) error {
	file, err := t.File()
	if err != nil {
		r.opts.observer.ObserveMalformed()
		return err
	}

	now := r.opts.clock()

	_, previous, err := r.registry.Advance(b, file, now)
	if err != nil {
		return fmt.Errorf("registry.Advance: %w", err)
	}

	if previous != nil && previous.Close(now) {
		r.log(b).WithField("file", file).Debug("group cutover")
	}

	return nil
}

// TestFinished records the test's outcome in its group, creating the group when
// no start event was seen for it.
func (r *Reporter) TestFinished(_ context.Context, b registry.Browser, t Test) error {
	outcome, err := Outcome(b, t)
	if err != nil {
		r.opts.observer.ObserveMalformed()
		return err
	}

	acc, err := r.registry.GetOrCreate(b, t.Path[0], r.opts.clock())
	if err != nil {
		return fmt.Errorf("registry.GetOrCreate: %w", err)
	}

	acc.Record(outcome)
	r.opts.observer.ObserveOutcome(b, outcome)

	return nil
}

// BrowserFinished closes and serializes every group of the browser and persists
// each document. A failed persist does not stop the others; all persist errors
// are returned joined.
func (r *Reporter) BrowserFinished(ctx context.Context, b registry.Browser) error {
	groups, err := r.registry.Finish(b)
	if err != nil {
		return fmt.Errorf("registry.Finish: %w", err)
	}

	logger := r.log(b)
	now := r.opts.clock()

	for _, g := range groups {
		g.Accumulator.Close(now)
	}

	type pending struct {
		file string
		doc  report.Document
	}

	summary := Summary{Browser: b}
	docs := make([]pending, 0, len(groups))
	for _, g := range groups {
		doc, err := g.Accumulator.Serialize(SuiteName(b, g.File), now)
		if err != nil {
			logger.WithField("file", g.File).WithError(err).Error("serialize report")
			continue
		}

		r.inspect(logger.WithField("file", g.File), doc)
		r.opts.observer.ObserveSuite(b, doc)

		summary.Files++
		summary.Tests += doc.Stats.Tests
		summary.Passes += doc.Stats.Passes
		summary.Failures += doc.Stats.Failures
		summary.Skipped += doc.Skipped

		docs = append(docs, pending{file: g.File, doc: doc})
	}

	errs := make([]error, len(docs))

	var wg errgroup.Group
	wg.SetLimit(r.opts.parallelism)
	for idx := range docs {
		idx := idx
		wg.Go(
			func() error {
				p := docs[idx]
				if err := r.persister.Persist(ctx, b, p.file, p.doc.Content); err != nil {
					errs[idx] = fmt.Errorf("persist %s: %w", p.doc.Name, err)
					logger.WithField("file", p.file).WithError(err).Error("persist report")
				}
				r.opts.observer.ObservePersist(b, errs[idx])

				return nil
			},
		)
	}

	_ = wg.Wait()

	for _, err := range errs {
		if err != nil {
			summary.PersistErrors++
		}
	}

	r.mu.Lock()
	r.summaries = append(r.summaries, summary)
	r.mu.Unlock()

	logger.WithFields(
		logrus.Fields{
			"files":    summary.Files,
			"tests":    summary.Tests,
			"failures": summary.Failures,
			"skipped":  summary.Skipped,
		},
	).Info("browser reports flushed")

	return errors.Join(errs...)
}

func (r *Reporter) inspect(logger logrus.FieldLogger, doc report.Document) {
	if doc.ImplicitClose {
		logger.Warn("group was closed by serialization, browser finish never reached it")
	}

	if doc.SkipDeficit > 0 {
		logger.WithFields(
			logrus.Fields{
				"tests":    doc.Stats.Tests,
				"passes":   doc.Stats.Passes,
				"failures": doc.Stats.Failures,
			},
		).Warnf("skipped count is negative by %d, written as 0", doc.SkipDeficit)
	}
}

// FlushUnfinished finishes every browser that never reported completion.
func (r *Reporter) FlushUnfinished(ctx context.Context) error {
	var errs []error
	for _, b := range r.registry.Unfinished() {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.log(b).Warn("browser never finished, flushing its reports")
		if err := r.BrowserFinished(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Open returns the groups whose timing window is still open.
func (r *Reporter) Open() []registry.Group {
	return r.registry.Open()
}

// Summaries returns a summary per flushed browser in flush order.
func (r *Reporter) Summaries() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	summaries := make([]Summary, len(r.summaries))
	copy(summaries, r.summaries)

	return summaries
}
