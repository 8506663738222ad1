package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roman-kulish/drone-dagger/internal/mailbox"
)

// Source is a pull-based capability producing values of T. Next may block on
// I/O; it should return promptly once ctx is done or the source is closed.
// A source returning io.EOF is exhausted and stops the channel quietly.
type Source[T any] interface {
	Next(ctx context.Context) (T, error)
}

// Inbound polls a Source in its own goroutine and keeps the freshest value in
// a replace-on-full mailbox
type Inbound[T any] struct {
	worker

	source Source[T]
	box    *mailbox.Mailbox[T]
}

// NewInbound creates a new inbound channel with a discard logger
func NewInbound[T any](name string, source Source[T], opts ...Option) *Inbound[T] {
	c := Inbound[T]{
		source: source,
		box:    mailbox.New[T](mailbox.ReplaceOnFull),
	}
	c.init(name, source, opts)

	return &c
}

// Start begins polling the source. Channel failures are reported on the
// returned error channel, which is closed when the worker exits.
func (c *Inbound[T]) Start(ctx context.Context) (<-chan error, error) {
	ctx, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}

	c.box = mailbox.New[T](mailbox.ReplaceOnFull)

	go c.poll(ctx)

	return c.errs, nil
}

func (c *Inbound[T]) poll(ctx context.Context) {
	defer c.end()
	defer c.box.Close()

	if err := c.connect(ctx, c.source); err != nil {
		if ctx.Err() == nil {
			c.post(err)
		}
		return
	}

	var pollErrors uint8
	for ctx.Err() == nil {
		v, err := c.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			if errors.Is(err, io.EOF) {
				c.logger.Info("source exhausted")
				return
			}

			if IsFatal(err) {
				c.post(fmt.Errorf("%s: %w", c.name, err))
				return
			}

			if errors.Is(err, ErrTransient) {
				c.logger.Debug(fmt.Sprintf("source not ready: %s", err.Error()))

				if !c.pause(ctx, c.retryDelay) {
					return
				}
				continue
			}

			pollErrors++
			c.logger.Warn(fmt.Sprintf("error polling source: %s", err.Error()), slog.Int("consecutive", int(pollErrors)))

			if pollErrors >= c.errorsThreshold {
				c.post(fmt.Errorf("%s: %w: %w", c.name, ErrTooManyErrors, err))
				return
			}

			if !c.pause(ctx, c.retryDelay) {
				return
			}
			continue
		}

		pollErrors = 0 // reset counter

		c.box.Put(v)

		if !c.pause(ctx, c.interval) {
			return
		}
	}
}

// TryRead returns the freshest value if one arrived since the last read. It never blocks.
func (c *Inbound[T]) TryRead() (T, bool) {
	return c.box.TryRead()
}

// ReadFirst blocks until a value arrives. Use it only during initialization.
func (c *Inbound[T]) ReadFirst(ctx context.Context) (T, error) {
	v, err := c.box.Read(ctx)
	if err != nil {
		if errors.Is(err, mailbox.ErrClosed) {
			return v, fmt.Errorf("%s: channel stopped before first value: %w", c.name, err)
		}
		return v, fmt.Errorf("%s: waiting for first value: %w", c.name, err)
	}
	return v, nil
}

// Read blocks until a value newer than the last one read arrives
func (c *Inbound[T]) Read(ctx context.Context) (T, error) {
	v, err := c.box.Read(ctx)
	if err != nil {
		return v, fmt.Errorf("%s: reading: %w", c.name, err)
	}
	return v, nil
}

// Stats returns the mailbox counters
func (c *Inbound[T]) Stats() mailbox.Stats {
	return c.box.Stats()
}

// Stop signals the worker to exit and waits at most timeout for it
func (c *Inbound[T]) Stop(timeout time.Duration) error {
	if !c.IsRunning() {
		return nil // already stopped
	}

	c.cancel()
	c.release()

	return c.join(timeout)
}
