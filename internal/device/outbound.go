package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roman-kulish/drone-dagger/internal/command"
	"github.com/roman-kulish/drone-dagger/internal/mailbox"
)

// Sink delivers commands to the drone
type Sink interface {
	Send(ctx context.Context, cmd command.Command) error
}

// Outbound forwards commands to a Sink from its own goroutine. Its queue is
// drop-on-full so callers never block on a slow link.
type Outbound struct {
	worker

	sink Sink
	box  *mailbox.Mailbox[command.Command]
}

// NewOutbound creates a new outbound channel with a discard logger
func NewOutbound(name string, sink Sink, opts ...Option) *Outbound {
	c := Outbound{
		sink: sink,
		box:  mailbox.New[command.Command](mailbox.DropOnFull),
	}
	c.init(name, sink, opts)

	return &c
}

// Start begins forwarding commands. Channel failures are reported on the
// returned error channel, which is closed when the worker exits.
func (c *Outbound) Start(ctx context.Context) (<-chan error, error) {
	ctx, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}

	c.box = mailbox.New[command.Command](mailbox.DropOnFull)

	go c.forward(ctx)

	return c.errs, nil
}

func (c *Outbound) forward(ctx context.Context) {
	defer c.end()

	if err := c.connect(ctx, c.sink); err != nil {
		if ctx.Err() == nil {
			c.post(err)
		}
		return
	}

	var sendErrors uint8
	for {
		cmd, err := c.box.Read(ctx)
		if err != nil {
			return // closed or cancelled
		}

		if err = c.sink.Send(ctx, cmd); err != nil {
			if ctx.Err() != nil {
				return
			}

			if IsFatal(err) {
				c.post(fmt.Errorf("%s: %w", c.name, err))
				return
			}

			sendErrors++
			c.logger.Warn(fmt.Sprintf("error sending command: %s", err.Error()), slog.Int("consecutive", int(sendErrors)))

			if sendErrors >= c.errorsThreshold {
				c.post(fmt.Errorf("%s: %w: %w", c.name, ErrTooManyErrors, err))
				return
			}
			continue
		}

		sendErrors = 0 // reset counter
	}
}

// Send queues cmd and reports whether it was accepted. A command is dropped
// when the previous one has not been delivered yet.
func (c *Outbound) Send(cmd command.Command) bool {
	return c.box.Put(cmd)
}

// Land queues a land command, replacing any pending command
func (c *Outbound) Land() bool {
	return c.box.Force(command.Land().WithSource(command.Expert))
}

// Stats returns the queue counters
func (c *Outbound) Stats() mailbox.Stats {
	return c.box.Stats()
}

// Stop lets the worker deliver a pending command, then waits at most timeout
// for it to exit before cancelling it
func (c *Outbound) Stop(timeout time.Duration) error {
	if !c.IsRunning() {
		return nil // already stopped
	}

	c.box.Close()
	err := c.join(timeout)

	c.cancel()
	c.release()

	return err
}
