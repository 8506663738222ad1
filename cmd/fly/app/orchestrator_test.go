package app

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/roman-kulish/drone-dagger/internal/camera"
	"github.com/roman-kulish/drone-dagger/internal/command"
	"github.com/roman-kulish/drone-dagger/internal/device"
	"github.com/roman-kulish/drone-dagger/internal/features"
	"github.com/roman-kulish/drone-dagger/internal/history"
	"github.com/roman-kulish/drone-dagger/internal/telemetry"
	"github.com/roman-kulish/drone-dagger/internal/tiling"
	"github.com/roman-kulish/drone-dagger/internal/trajectory"
)

type fakeCamera struct {
	seq uint64
}

func (c *fakeCamera) Next(ctx context.Context) (camera.Frame, error) {
	c.seq++

	img := image.NewNRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 10), B: uint8(c.seq), A: 255})
		}
	}

	return camera.Frame{Image: img, Seq: c.seq, Timestamp: time.Now()}, ctx.Err()
}

type fakeTelemetry struct{}

func (fakeTelemetry) Next(ctx context.Context) (telemetry.Telemetry, error) {
	return telemetry.Telemetry{Altitude: 1200, Pitch: 1, Roll: -1, Yaw: 90}, ctx.Err()
}

// fakePilot keeps sending whatever command returns
type fakePilot struct {
	command func() command.Command
}

func (p *fakePilot) Next(ctx context.Context) (command.Command, error) {
	return p.command(), ctx.Err()
}

func constPilot(cmd command.Command) *fakePilot {
	return &fakePilot{command: func() command.Command { return cmd }}
}

type fakeSink struct {
	mu   sync.Mutex
	sent []command.Command
}

func (s *fakeSink) Send(_ context.Context, cmd command.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, cmd)
	return nil
}

func (s *fakeSink) tookOff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cmd := range s.sent {
		if cmd.T {
			return true
		}
	}
	return false
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sent)
}

func (s *fakeSink) last() (command.Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sent) == 0 {
		return command.Command{}, false
	}
	return s.sent[len(s.sent)-1], true
}

// brokenTelemetry loses the drone once the sink has received after commands
type brokenTelemetry struct {
	sink  *fakeSink
	after int
}

func (b brokenTelemetry) Next(ctx context.Context) (telemetry.Telemetry, error) {
	if b.sink.count() >= b.after {
		return telemetry.Telemetry{}, device.ErrBrokenPipe
	}
	return fakeTelemetry{}.Next(ctx)
}

// stuckSink never finishes connecting
type stuckSink struct{}

func (stuckSink) Connect(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stuckSink) Send(context.Context, command.Command) error {
	return nil
}

func testSession(maxTicks int) SessionConfig {
	return SessionConfig{
		Mode:      ModeExec,
		Iteration: 1,
		MaxTicks:  maxTicks,
		Tick:      5 * time.Millisecond,
		Init:      2 * time.Second,
		Join:      time.Second,
	}
}

func testChannels(sink device.Sink, p *fakePilot) Channels {
	paced := device.WithInterval(time.Millisecond)

	return Channels{
		Command:   device.NewOutbound("command", sink),
		Telemetry: device.NewInbound[telemetry.Telemetry]("telemetry", fakeTelemetry{}, paced),
		Camera:    device.NewInbound[camera.Frame]("camera", &fakeCamera{}, paced),
		Pilot:     device.NewInbound[command.Command]("pilot", p, paced),
	}
}

func testExtractors(t *testing.T) (*features.Visual, *history.History) {
	t.Helper()

	visual, err := features.NewVisual(tiling.Grid{Cols: 2, Rows: 2}, features.WithTileSize(8, 8))
	if err != nil {
		t.Fatalf("creating visual features: %v", err)
	}

	hist, err := history.New(3, 4)
	if err != nil {
		t.Fatalf("creating history: %v", err)
	}

	return visual, hist
}

func TestOrchestrator_ExpertFlight(t *testing.T) {
	const ticks = 5

	dir := filepath.Join(t.TempDir(), "1", "1")
	recorder, err := trajectory.NewRecorder(dir)
	if err != nil {
		t.Fatalf("creating recorder: %v", err)
	}

	expert := command.Command{X: 0.3, T: true}
	sink := new(fakeSink)
	visual, hist := testExtractors(t)

	o := NewOrchestrator(testChannels(sink, constPilot(expert)), expertMode{}, visual, hist, testSession(ticks),
		WithRecorder(recorder),
		WithBlockingReads(true),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = o.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if o.State() != Landed {
		t.Errorf("expected state %s, got %s", Landed, o.State())
	}
	if o.Ticks() != ticks {
		t.Errorf("expected %d ticks, got %d", ticks, o.Ticks())
	}

	for i := 1; i <= ticks; i++ {
		if _, err = os.Stat(camera.FramePath(dir, i)); err != nil {
			t.Errorf("frame %d: %v", i, err)
		}
	}
	if _, err = os.Stat(camera.FramePath(dir, ticks+1)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected no frame after the last tick, got %v", err)
	}

	rows, err := trajectory.LoadFeatures(filepath.Join(dir, trajectory.FeaturesFile))
	if err != nil {
		t.Fatalf("loading features: %v", err)
	}
	if len(rows) != ticks {
		t.Fatalf("expected %d feature rows, got %d", ticks, len(rows))
	}

	wantDim := visual.Len() + hist.Len()
	for i, row := range rows {
		if row.Timestep != i+1 {
			t.Errorf("row %d: expected timestep %d, got %d", i, i+1, row.Timestep)
		}
		if len(row.Features) != wantDim {
			t.Errorf("row %d: expected %d features, got %d", i, wantDim, len(row.Features))
		}
	}

	experts, err := trajectory.LoadCommands(filepath.Join(dir, trajectory.ExpertCommandsFile))
	if err != nil {
		t.Fatalf("loading expert commands: %v", err)
	}
	drones, err := trajectory.LoadCommands(filepath.Join(dir, trajectory.DroneCommandsFile))
	if err != nil {
		t.Fatalf("loading drone commands: %v", err)
	}
	if len(experts) != ticks || len(drones) != ticks {
		t.Fatalf("expected %d command rows, got %d expert and %d drone", ticks, len(experts), len(drones))
	}

	// iteration 1 flies the expert's command
	if diff := cmp.Diff(experts, drones); diff != "" {
		t.Errorf("drone commands differ from expert commands (-expert +drone):\n%s", diff)
	}
	if experts[0].X != 0.3 {
		t.Errorf("expected expert X 0.3, got %v", experts[0].X)
	}

	last, ok := sink.last()
	if !ok || !last.L {
		t.Errorf("expected a land command last, got %+v", last)
	}
}

func TestOrchestrator_ExpertLabelPerTick(t *testing.T) {
	const ticks = 5

	dir := filepath.Join(t.TempDir(), "1", "1")
	recorder, err := trajectory.NewRecorder(dir)
	if err != nil {
		t.Fatalf("creating recorder: %v", err)
	}

	// the pilot steers further right with every command the drone receives
	sink := new(fakeSink)
	p := &fakePilot{command: func() command.Command {
		if !sink.tookOff() {
			return command.Takeoff()
		}
		return command.Command{X: float64(sink.count()) / 100}
	}}
	visual, hist := testExtractors(t)

	session := testSession(ticks)
	session.Tick = 20 * time.Millisecond

	o := NewOrchestrator(testChannels(sink, p), expertMode{}, visual, hist, session,
		WithRecorder(recorder),
		WithBlockingReads(true),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = o.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	experts, err := trajectory.LoadCommands(filepath.Join(dir, trajectory.ExpertCommandsFile))
	if err != nil {
		t.Fatalf("loading expert commands: %v", err)
	}
	drones, err := trajectory.LoadCommands(filepath.Join(dir, trajectory.DroneCommandsFile))
	if err != nil {
		t.Fatalf("loading drone commands: %v", err)
	}
	if len(experts) != ticks || len(drones) != ticks {
		t.Fatalf("expected %d command rows, got %d expert and %d drone", ticks, len(experts), len(drones))
	}

	for k := range experts {
		if experts[k].X != drones[k].X {
			t.Errorf("tick %d: expert X %v, drone X %v", k+1, experts[k].X, drones[k].X)
		}
		if k > 0 && experts[k].X <= experts[k-1].X {
			t.Errorf("tick %d: expected a new expert command, got X %v after %v", k+1, experts[k].X, experts[k-1].X)
		}
	}
}

func TestOrchestrator_TelemetryLostInFlight(t *testing.T) {
	sink := new(fakeSink)
	visual, hist := testExtractors(t)

	channels := testChannels(sink, constPilot(command.Command{X: 0.3, T: true}))
	channels.Telemetry = device.NewInbound[telemetry.Telemetry]("telemetry",
		brokenTelemetry{sink: sink, after: 4}, device.WithInterval(time.Millisecond))

	o := NewOrchestrator(channels, expertMode{}, visual, hist, testSession(0))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := o.Run(ctx)
	if !errors.Is(err, device.ErrBrokenPipe) {
		t.Fatalf("expected ErrBrokenPipe, got %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("expected the lost telemetry to end the flight before the deadline")
	}

	if o.State() != Landed {
		t.Errorf("expected state %s, got %s", Landed, o.State())
	}
	if o.Ticks() == 0 {
		t.Errorf("expected the flight to fly before losing telemetry")
	}

	last, ok := sink.last()
	if !ok || !last.L {
		t.Errorf("expected a land command last, got %+v", last)
	}
}

func TestOrchestrator_PilotLands(t *testing.T) {
	sink := new(fakeSink)
	p := &fakePilot{command: func() command.Command {
		if sink.tookOff() {
			return command.Land()
		}
		return command.Command{T: true, X: 0.1}
	}}
	visual, hist := testExtractors(t)

	o := NewOrchestrator(testChannels(sink, p), expertMode{}, visual, hist, testSession(0))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ctx.Err() != nil {
		t.Fatalf("expected the pilot to end the flight before the deadline")
	}

	last, ok := sink.last()
	if !ok || !last.L {
		t.Errorf("expected a land command last, got %+v", last)
	}
}

func TestOrchestrator_InitTimeout(t *testing.T) {
	session := testSession(1)
	session.Init = 50 * time.Millisecond
	session.Join = 50 * time.Millisecond

	visual, hist := testExtractors(t)
	o := NewOrchestrator(testChannels(stuckSink{}, constPilot(command.Takeoff())), expertMode{}, visual, hist, session)

	err := o.Run(context.Background())
	if !errors.Is(err, ErrInitTimeout) {
		t.Fatalf("expected ErrInitTimeout, got %v", err)
	}
	if o.State() != Landed {
		t.Errorf("expected state %s, got %s", Landed, o.State())
	}
	if o.Ticks() != 0 {
		t.Errorf("expected no ticks, got %d", o.Ticks())
	}
}
