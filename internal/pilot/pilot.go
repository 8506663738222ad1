package pilot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/roman-kulish/drone-dagger/internal/command"
	"github.com/roman-kulish/drone-dagger/internal/link"
)

// maxLineSize bounds one command line
const maxLineSize = 4096

// Stream reads pilot commands encoded as one JSON object per line. Blank lines are skipped.
//
// Lines are read by a detached goroutine, so Next returns as soon as ctx is
// done even when the reader cannot be interrupted, as with a terminal on
// standard input.
type Stream struct {
	scanner *bufio.Scanner
	closer  io.Closer

	startOnce sync.Once
	closeOnce sync.Once
	results   chan result
	done      chan struct{}
}

type result struct {
	cmd command.Command
	err error
}

// NewStream creates a pilot source reading from r. If r is an io.Closer it is
// closed by Close.
func NewStream(r io.Reader) *Stream {
	s := Stream{
		scanner: newScanner(r),
		results: make(chan result),
		done:    make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return &s
}

// Next returns the next pilot command, or io.EOF when the stream ends
func (s *Stream) Next(ctx context.Context) (command.Command, error) {
	s.startOnce.Do(func() { go s.read() })

	select {
	case r, ok := <-s.results:
		if !ok {
			return command.Command{}, io.EOF
		}
		return r.cmd, r.err
	case <-s.done:
		return command.Command{}, io.EOF
	case <-ctx.Done():
		return command.Command{}, ctx.Err()
	}
}

// read forwards decoded lines until the reader fails or the stream is closed
func (s *Stream) read() {
	defer close(s.results)

	for {
		cmd, err := next(context.Background(), s.scanner)
		if errors.Is(err, io.EOF) {
			return
		}

		select {
		case s.results <- result{cmd: cmd, err: err}:
		case <-s.done:
			return
		}

		// a failed reader stays failed; undecodable lines are skipped
		if s.scanner.Err() != nil {
			return
		}
	}
}

// Close closes the underlying reader and releases a blocked Next
func (s *Stream) Close() (err error) {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// Remote reads pilot commands from a TCP server, typically a gamepad bridge
type Remote struct {
	address string
	timeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	scanner *bufio.Scanner
}

// NewRemote creates a pilot source for address. Call Connect before Next.
func NewRemote(address string, timeout time.Duration) *Remote {
	return &Remote{address: address, timeout: timeout}
}

// Connect dials the pilot server
func (r *Remote) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: r.timeout}

	conn, err := d.DialContext(ctx, "tcp", r.address)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", r.address, link.Classify(err))
	}

	r.mu.Lock()
	r.conn = conn
	r.scanner = newScanner(conn)
	r.mu.Unlock()

	return nil
}

// Next blocks until the pilot sends a command. A closed connection is a broken pipe.
func (r *Remote) Next(ctx context.Context) (command.Command, error) {
	r.mu.Lock()
	scanner := r.scanner
	r.mu.Unlock()

	if scanner == nil {
		return command.Command{}, fmt.Errorf("%s: %w", r.address, net.ErrClosed)
	}

	cmd, err := next(ctx, scanner)
	if err != nil {
		return cmd, link.Classify(err)
	}
	return cmd, nil
}

// Close closes the connection
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}

	err := r.conn.Close()
	r.conn = nil
	return err
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, maxLineSize), maxLineSize)
	return scanner
}

func next(ctx context.Context, scanner *bufio.Scanner) (command.Command, error) {
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return command.Command{}, err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		cmd, err := command.Decode(line)
		if err != nil {
			return command.Command{}, fmt.Errorf("decoding pilot command: %w", err)
		}
		return cmd, nil
	}
	if err := scanner.Err(); err != nil {
		return command.Command{}, fmt.Errorf("reading pilot input: %w", err)
	}

	return command.Command{}, io.EOF
}
