package link

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/drone-dagger/internal/command"
	"github.com/roman-kulish/drone-dagger/internal/device"
)

// serve accepts one connection and hands it to handle
func serve(t *testing.T, handle func(nc net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		handle(nc)
	}()

	return ln.Addr().String()
}

func TestCommandLink_Send(t *testing.T) {
	lines := make(chan string, 2)
	addr := serve(t, func(nc net.Conn) {
		scanner := bufio.NewScanner(nc)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	})

	l := NewCommandLink(addr, WithTimeout(time.Second))
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	if err := l.Send(context.Background(), command.Takeoff()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case line := <-lines:
		want := `{"X":0,"Y":0,"Z":0,"R":0,"C":0,"T":true,"L":false,"S":false}`
		if line != want {
			t.Errorf("unexpected line:\n got: %s\nwant: %s", line, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for command")
	}
}

func TestTelemetryLink_Next(t *testing.T) {
	addr := serve(t, func(nc net.Conn) {
		reader := bufio.NewReader(nc)
		for {
			query, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimSpace(query) != `{"N":true}` {
				return
			}
			_, _ = nc.Write([]byte(`{"demo":{"altitude":800,"rotation":{"pitch":1,"roll":2,"yaw":3}}}` + "\n"))
		}
	})

	l := NewTelemetryLink(addr)
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	for i := 0; i < 2; i++ {
		tm, err := l.Next(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tm.Values() != [4]float64{800, 1, 2, 3} {
			t.Errorf("unexpected telemetry: %+v", tm)
		}
	}
}

func TestTelemetryLink_ServerGone(t *testing.T) {
	addr := serve(t, func(nc net.Conn) {}) // closes immediately

	l := NewTelemetryLink(addr)
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	var err error
	for i := 0; i < 3 && err == nil; i++ {
		_, err = l.Next(context.Background())
	}
	if !errors.Is(err, device.ErrBrokenPipe) {
		t.Errorf("expected ErrBrokenPipe, got %v", err)
	}
}

func TestConnect_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	l := NewCommandLink(addr, WithTimeout(time.Second))
	if err = l.Connect(context.Background()); !errors.Is(err, device.ErrConnectionRefused) {
		t.Errorf("expected ErrConnectionRefused, got %v", err)
	}
}

func TestSend_NotConnected(t *testing.T) {
	l := NewCommandLink("127.0.0.1:9000")
	if err := l.Send(context.Background(), command.Default()); !errors.Is(err, net.ErrClosed) {
		t.Errorf("expected net.ErrClosed, got %v", err)
	}
}
