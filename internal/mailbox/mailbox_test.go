package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMailbox_ReplaceOnFull(t *testing.T) {
	m := New[string](ReplaceOnFull)

	if !m.Put("A") {
		t.Fatalf("expected first put to be accepted")
	}
	if !m.Put("B") {
		t.Fatalf("expected second put to replace the pending value")
	}

	v, ok := m.TryRead()
	if !ok {
		t.Fatalf("expected a value")
	}
	if v != "B" {
		t.Errorf("expected B, got %s", v)
	}

	if _, ok = m.TryRead(); ok {
		t.Errorf("expected empty mailbox after read")
	}

	stats := m.Stats()
	if stats.Puts != 2 || stats.Drops != 1 || stats.Reads != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestMailbox_DropOnFull(t *testing.T) {
	m := New[int](DropOnFull)

	if !m.Put(1) {
		t.Fatalf("expected first put to be accepted")
	}
	if m.Put(2) {
		t.Fatalf("expected second put to be dropped")
	}

	v, ok := m.TryRead()
	if !ok || v != 1 {
		t.Errorf("expected 1, got %d (ok=%v)", v, ok)
	}

	if !m.Put(3) {
		t.Errorf("expected put into an empty slot to be accepted")
	}

	if stats := m.Stats(); stats.Drops != 1 {
		t.Errorf("expected 1 drop, got %d", stats.Drops)
	}
}

func TestMailbox_Read(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(m *Mailbox[int])
		timeout time.Duration
		want    int
		wantErr error
	}{
		{
			name:    "pending value",
			setup:   func(m *Mailbox[int]) { m.Put(7) },
			timeout: time.Second,
			want:    7,
		},
		{
			name: "value arrives later",
			setup: func(m *Mailbox[int]) {
				go func() {
					time.Sleep(20 * time.Millisecond)
					m.Put(9)
				}()
			},
			timeout: time.Second,
			want:    9,
		},
		{
			name:    "closed and empty",
			setup:   func(m *Mailbox[int]) { m.Close() },
			timeout: time.Second,
			wantErr: ErrClosed,
		},
		{
			name:    "context deadline",
			setup:   func(m *Mailbox[int]) {},
			timeout: 20 * time.Millisecond,
			wantErr: context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New[int](ReplaceOnFull)
			tt.setup(m)

			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()

			got, err := m.Read(ctx)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestMailbox_CloseKeepsPendingValue(t *testing.T) {
	m := New[int](ReplaceOnFull)
	m.Put(5)
	m.Close()

	if m.Put(6) {
		t.Errorf("expected put after close to be ignored")
	}

	v, err := m.Read(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 5 {
		t.Errorf("expected 5, got %d", v)
	}

	if _, err = m.Read(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMailbox_ForceOverridesDropOnFull(t *testing.T) {
	m := New[int](DropOnFull)
	m.Put(1)

	if !m.Force(2) {
		t.Fatalf("expected force to be accepted")
	}

	v, ok := m.TryRead()
	if !ok || v != 2 {
		t.Errorf("expected 2, got %d (ok=%v)", v, ok)
	}
}
