package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roman-kulish/drone-dagger/internal/command"
)

type counterSource struct {
	n atomic.Int64
}

func (s *counterSource) Next(ctx context.Context) (int64, error) {
	return s.n.Add(1), nil
}

type failingSource struct {
	err error
}

func (s failingSource) Next(ctx context.Context) (int, error) {
	return 0, s.err
}

// warmingSource is not ready for the first calls
type warmingSource struct {
	calls atomic.Int64
	ready int64
}

func (s *warmingSource) Next(ctx context.Context) (int, error) {
	if n := s.calls.Add(1); n <= s.ready {
		return 0, fmt.Errorf("warming up: %w", ErrTransient)
	}
	return 42, nil
}

type refusingSource struct{}

func (refusingSource) Connect(ctx context.Context) error {
	return ErrConnectionRefused
}

func (refusingSource) Next(ctx context.Context) (int, error) {
	return 0, nil
}

// stuckSource ignores cancellation until released
type stuckSource struct {
	release chan struct{}
}

func (s stuckSource) Next(ctx context.Context) (int, error) {
	<-s.release
	return 0, nil
}

type recordingSink struct {
	mu   sync.Mutex
	sent []command.Command
	err  error
}

func (s *recordingSink) Send(ctx context.Context, cmd command.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func (s *recordingSink) commands() []command.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]command.Command(nil), s.sent...)
}

func TestInbound_FreshestValue(t *testing.T) {
	src := &counterSource{}
	ch := NewInbound[int64]("counter", src, WithInterval(time.Millisecond))

	errs, err := ch.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := ch.ReadFirst(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ch.Alive() {
		t.Errorf("expected channel to be alive")
	}

	time.Sleep(20 * time.Millisecond)

	next, ok := ch.TryRead()
	if !ok {
		t.Fatalf("expected a value after waiting")
	}
	if next <= first {
		t.Errorf("expected values to increase, got %d after %d", next, first)
	}

	if err = ch.Stop(time.Second); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if ch.Alive() {
		t.Errorf("expected channel to be dead after stop")
	}
	if _, open := <-errs; open {
		t.Errorf("expected error channel to be closed without errors")
	}
}

func TestInbound_Errors(t *testing.T) {
	tests := []struct {
		name    string
		source  Source[int]
		wantErr error
	}{
		{"connection refused on connect", refusingSource{}, ErrConnectionRefused},
		{"broken pipe on poll", failingSource{err: ErrBrokenPipe}, ErrBrokenPipe},
		{"too many poll errors", failingSource{err: errors.New("bad frame")}, ErrTooManyErrors},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewInbound[int]("test", tt.source, WithRetryDelay(time.Millisecond), WithErrorsThreshold(3))

			errs, err := ch.Start(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer ch.Stop(time.Second)

			select {
			case err = <-errs:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for error")
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			if _, err = ch.ReadFirst(ctx); err == nil {
				t.Errorf("expected ReadFirst to fail on a dead channel")
			}
			if ch.Alive() {
				t.Errorf("expected channel to be dead")
			}
		})
	}
}

func TestInbound_TransientErrorsAreNotCounted(t *testing.T) {
	src := &warmingSource{ready: 10}
	ch := NewInbound[int]("warming", src, WithRetryDelay(time.Millisecond), WithErrorsThreshold(3))

	errs, err := ch.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := ch.ReadFirst(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}

	if err = ch.Stop(time.Second); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	for err = range errs {
		t.Errorf("unexpected channel error: %v", err)
	}
}

func TestInbound_StopTimeout(t *testing.T) {
	src := stuckSource{release: make(chan struct{})}
	defer close(src.release)

	ch := NewInbound[int]("stuck", src)
	if _, err := ch.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ch.Stop(20 * time.Millisecond); !errors.Is(err, ErrJoinTimeout) {
		t.Errorf("expected ErrJoinTimeout, got %v", err)
	}
}

func TestInbound_StartTwice(t *testing.T) {
	ch := NewInbound[int64]("counter", &counterSource{})
	if _, err := ch.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer ch.Stop(time.Second)

	if _, err := ch.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestOutbound_DeliversAndLands(t *testing.T) {
	sink := &recordingSink{}
	ch := NewOutbound("command", sink)

	if _, err := ch.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !ch.Alive() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	ch.Send(command.Command{X: 0.5})
	ch.Land()

	if err := ch.Stop(time.Second); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	sent := sink.commands()
	if len(sent) == 0 {
		t.Fatalf("expected at least one command to be delivered")
	}
	if last := sent[len(sent)-1]; !last.L {
		t.Errorf("expected the last delivered command to be land, got %+v", last)
	}
}

func TestOutbound_BrokenPipe(t *testing.T) {
	sink := &recordingSink{err: ErrBrokenPipe}
	ch := NewOutbound("command", sink)

	errs, err := ch.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer ch.Stop(time.Second)

	ch.Send(command.Default())

	select {
	case err = <-errs:
		if !errors.Is(err, ErrBrokenPipe) {
			t.Errorf("expected ErrBrokenPipe, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for error")
	}
}
