package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// ErrorsThreshold defines the number of consecutive poll errors allowed
	ErrorsThreshold = 5

	// errorBuffer is the capacity of the error channel
	errorBuffer = 4

	defaultRetryDelay = 100 * time.Millisecond
)

var (
	// ErrConnectionRefused is reported when the remote end refused the connection
	ErrConnectionRefused = errors.New("connection refused")

	// ErrBrokenPipe is reported when the remote end went away mid-stream
	ErrBrokenPipe = errors.New("broken pipe")

	// ErrTooManyErrors is reported when the number of consecutive poll errors exceeds the threshold
	ErrTooManyErrors = errors.New("too many consecutive errors")

	// ErrJoinTimeout is returned by Stop when the worker did not exit in time
	ErrJoinTimeout = errors.New("worker did not stop in time")

	// ErrAlreadyRunning is returned by Start on a running channel
	ErrAlreadyRunning = errors.New("channel is already running")

	// ErrTransient marks a poll error the source expects to clear by itself.
	// It is retried and never counted against the errors threshold.
	ErrTransient = errors.New("transient")
)

// IsFatal reports whether err kills a channel
func IsFatal(err error) bool {
	return errors.Is(err, ErrConnectionRefused) ||
		errors.Is(err, ErrBrokenPipe) ||
		errors.Is(err, ErrTooManyErrors)
}

// Connector is implemented by sources and sinks that need to set up a
// connection before the first poll
type Connector interface {
	Connect(ctx context.Context) error
}

// Option configures a channel
type Option func(o *options)

type options struct {
	logger          *slog.Logger
	clock           clock.Clock
	interval        time.Duration
	retryDelay      time.Duration
	errorsThreshold uint8
}

// WithLogger sets the logger for the channel
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the clock used for pacing and join timeouts
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithInterval sets a pause between two successful polls
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		o.interval = d
	}
}

// WithRetryDelay sets a pause after a failed poll
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		o.retryDelay = d
	}
}

// WithErrorsThreshold sets the threshold for consecutive poll errors
func WithErrorsThreshold(threshold uint8) Option {
	return func(o *options) {
		o.errorsThreshold = threshold
	}
}

func newOptions(name string, opts []Option) options {
	o := options{
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		clock:           clock.New(),
		retryDelay:      defaultRetryDelay,
		errorsThreshold: ErrorsThreshold,
	}

	for _, opt := range opts {
		opt(&o)
	}

	o.logger = o.logger.With(slog.String("channel", name))
	return o
}

// worker holds the lifecycle shared by inbound and outbound channels
type worker struct {
	name string
	options

	isRunning atomic.Bool
	isAlive   atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
	errs   chan error

	closeOnce *sync.Once
	closer    io.Closer
}

func (w *worker) init(name string, resource any, opts []Option) {
	w.name = name
	w.options = newOptions(name, opts)

	if c, ok := resource.(io.Closer); ok {
		w.closer = c
	}
}

// begin prepares the worker for a run and returns its context
func (w *worker) begin(ctx context.Context) (context.Context, error) {
	if !w.isRunning.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%s: %w", w.name, ErrAlreadyRunning)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.errs = make(chan error, errorBuffer)
	w.closeOnce = new(sync.Once)

	return ctx, nil
}

// end marks the worker dead and closes its channels; called once by the worker goroutine
func (w *worker) end() {
	w.isAlive.Store(false)
	w.release()

	close(w.errs)
	close(w.done)

	w.logger.Info("channel stopped")
}

// connect runs the optional connection setup
func (w *worker) connect(ctx context.Context, resource any) error {
	if c, ok := resource.(Connector); ok {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("%s: connecting: %w", w.name, err)
		}
	}

	w.isAlive.Store(true)
	w.logger.Info("channel alive")
	return nil
}

// post reports err on the error channel without blocking the worker
func (w *worker) post(err error) {
	w.logger.Error(err.Error())

	select {
	case w.errs <- err:
	default:
		w.logger.Warn("error channel full, error dropped")
	}
}

// pause waits for d or until ctx is done; reports false when ctx is done
func (w *worker) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	select {
	case <-ctx.Done():
		return false
	case <-w.clock.After(d):
		return true
	}
}

// release closes the underlying resource once, unblocking any pending I/O
func (w *worker) release() {
	if w.closer == nil {
		return
	}

	w.closeOnce.Do(func() {
		if err := w.closer.Close(); err != nil {
			w.logger.Warn(fmt.Sprintf("closing: %s", err.Error()))
		}
	})
}

// join waits at most timeout for the worker goroutine to exit
func (w *worker) join(timeout time.Duration) error {
	defer w.isRunning.Store(false)

	select {
	case <-w.done:
		return nil
	case <-w.clock.After(timeout):
		return fmt.Errorf("%s: %w", w.name, ErrJoinTimeout)
	}
}

// Name returns the channel name
func (w *worker) Name() string {
	return w.name
}

// Alive reports whether the channel is connected and polling
func (w *worker) Alive() bool {
	return w.isAlive.Load()
}

// IsRunning reports whether the worker was started and not yet stopped
func (w *worker) IsRunning() bool {
	return w.isRunning.Load()
}
