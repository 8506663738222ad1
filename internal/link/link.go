package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/roman-kulish/drone-dagger/internal/device"
)

const defaultTimeout = 2 * time.Second

// Classify maps socket errors onto the device connectivity errors
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %w", device.ErrConnectionRefused, err)
	case errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %w", device.ErrBrokenPipe, err)
	default:
		return err
	}
}

// Option configures a link
type Option func(c *conn)

// WithTimeout sets the dial and per-operation I/O timeout
func WithTimeout(d time.Duration) Option {
	return func(c *conn) {
		c.timeout = d
	}
}

// conn is a lazily dialed TCP connection shared by the links
type conn struct {
	address string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func (c *conn) init(address string, options []Option) {
	c.address = address
	c.timeout = defaultTimeout

	for _, option := range options {
		option(c)
	}
}

// Connect dials the remote end
func (c *conn) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.timeout}

	nc, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.address, Classify(err))
	}

	c.mu.Lock()
	c.conn = nc
	c.mu.Unlock()

	return nil
}

// Close closes the connection, unblocking pending I/O
func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	return err
}

// current returns the open connection and sets its deadline from ctx
func (c *conn) current(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	nc := c.conn
	c.mu.Unlock()

	if nc == nil {
		return nil, fmt.Errorf("%s: %w", c.address, net.ErrClosed)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := nc.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}

	return nc, nil
}
