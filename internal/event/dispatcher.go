package event

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/robotomize/browser-xunit/internal/registry"
	"github.com/robotomize/browser-xunit/internal/reporter"
)

const defaultQueueSize = 64

// Handler consumes the lifecycle events of browsers.
type Handler interface {
	TestStarted(ctx context.Context, b registry.Browser, t reporter.Test) error
	TestFinished(ctx context.Context, b registry.Browser, t reporter.Test) error
	BrowserFinished(ctx context.Context, b registry.Browser) error
}

// Result is the accounting of one dispatched stream.
type Result struct {
	Events   int
	Browsers int
	// Err joins the errors of every line or event that was dropped.
	Err error
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger logrus.FieldLogger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// Dispatcher routes entries to a handler with one worker per browser, so a
// browser's events keep their order while browsers proceed independently.
type Dispatcher struct {
	handler   Handler
	logger    logrus.FieldLogger
	queueSize int

	mu   sync.Mutex
	errs []error
}

func NewDispatcher(handler Handler, opts ...DispatcherOption) *Dispatcher {
	d := Dispatcher{
		handler:   handler,
		logger:    logrus.StandardLogger(),
		queueSize: defaultQueueSize,
	}

	for _, o := range opts {
		o(&d)
	}

	return &d
}

// Run reads r until the end of the stream. Broken lines and rejected events are
// logged and collected into Result.Err; only cancellation and read failures stop it.
func (d *Dispatcher) Run(ctx context.Context, r *Reader) (Result, error) {
	var result Result

	wg, childCtx := errgroup.WithContext(ctx)
	queues := make(map[string]chan Entry)

	closeQueues := func() {
		for _, q := range queues {
			close(q)
		}
	}

	for {
		entry, err := r.Next(childCtx)
		if errors.Is(err, io.EOF) {
			break
		}

		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			d.logger.WithError(err).Warn("skip event line")
			d.collect(err)
			continue
		}

		if err != nil {
			closeQueues()
			_ = wg.Wait()
			return result, fmt.Errorf("reader Next: %w", err)
		}

		result.Events++

		q, ok := queues[entry.Browser.ID]
		if !ok {
			q = make(chan Entry, d.queueSize)
			queues[entry.Browser.ID] = q
			result.Browsers++

			wg.Go(
				func() error {
					return d.work(childCtx, q)
				},
			)
		}

		select {
		case <-childCtx.Done():
			closeQueues()
			_ = wg.Wait()
			return result, ctx.Err()
		case q <- entry:
		}
	}

	closeQueues()

	if err := wg.Wait(); err != nil {
		return result, err
	}

	result.Err = d.joined()

	return result, nil
}

func (d *Dispatcher) work(ctx context.Context, q <-chan Entry) error {
	for entry := range q {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := d.dispatch(ctx, entry); err != nil {
			d.logger.WithFields(
				logrus.Fields{
					"type":    entry.Type,
					"browser": entry.Browser.Name,
				},
			).WithError(err).Error("handle event")
			d.collect(err)
		}
	}

	return nil
}

// dispatch delivers one entry to the handler.
func (d *Dispatcher) dispatch(ctx context.Context, e Entry) error {
	switch e.Type {
	case TypeTestStart:
		return d.handler.TestStarted(ctx, e.Browser, *e.Test)
	case TypeTestFinish:
		return d.handler.TestFinished(ctx, e.Browser, *e.Test)
	case TypeBrowserFinish:
		return d.handler.BrowserFinished(ctx, e.Browser)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
}

func (d *Dispatcher) collect(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.errs = append(d.errs, err)
}

func (d *Dispatcher) joined() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return errors.Join(d.errs...)
}
