package app

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
	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/drone-dagger/internal/camera"
	"github.com/roman-kulish/drone-dagger/internal/command"
	"github.com/roman-kulish/drone-dagger/internal/device"
	"github.com/roman-kulish/drone-dagger/internal/features"
	"github.com/roman-kulish/drone-dagger/internal/history"
	"github.com/roman-kulish/drone-dagger/internal/telemetry"
	"github.com/roman-kulish/drone-dagger/internal/trajectory"
)

// ErrInitTimeout is returned when the channels do not come alive in time
var ErrInitTimeout = errors.New("channels did not come alive in time")

// aliveCheckInterval paces the channel liveness check during initialization
const aliveCheckInterval = 10 * time.Millisecond

// State is the orchestrator lifecycle state
type State int32

const (
	Idle State = iota
	ChannelsInitializing
	ChannelsReady
	FeatureExtractionReady
	Flying
	Landed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ChannelsInitializing:
		return "channels-initializing"
	case ChannelsReady:
		return "channels-ready"
	case FeatureExtractionReady:
		return "feature-extraction-ready"
	case Flying:
		return "flying"
	case Landed:
		return "landed"
	default:
		return "unknown"
	}
}

// Channels are the four device channels of a flight
type Channels struct {
	Camera    *device.Inbound[camera.Frame]
	Telemetry *device.Inbound[telemetry.Telemetry]
	Pilot     *device.Inbound[command.Command]
	Command   *device.Outbound
}

// Recorder persists the timesteps of a flight
type Recorder interface {
	Record(step trajectory.Step) error
	Close() error
}

// TelemetryStore keeps the telemetry used at every timestep
type TelemetryStore interface {
	StoreTelemetry(ctx context.Context, flightID string, timestep int, t *telemetry.Telemetry) (int64, error)
}

// TickInput is the observation handed to a Mode every tick
type TickInput struct {
	Timestep  int
	Features  []float64
	Expert    command.Command
	Telemetry telemetry.Telemetry
	Frame     camera.Frame
}

// Mode decides the command sent to the drone on every tick
type Mode interface {
	Tick(ctx context.Context, in *TickInput) (command.Command, error)
	Exit(ctx context.Context) error
}

// channelError carries an error posted by a channel worker
type channelError struct {
	channel string
	err     error
}

// WithLogger sets the orchestrator logger
func WithLogger(logger *slog.Logger) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock replaces the wall clock, for tests
func WithClock(c clock.Clock) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithRecorder persists every flying tick
func WithRecorder(r Recorder) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithTelemetryStore stores the telemetry of every tick under flightID
func WithTelemetryStore(store TelemetryStore, flightID string) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.store = store
		o.flightID = flightID
	}
}

// WithMaxTicks lands after n recorded ticks; 0 flies until the pilot lands
func WithMaxTicks(n int) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.maxTicks = n
	}
}

// WithBlockingReads makes every tick wait for a fresh frame and telemetry sample
func WithBlockingReads(blocking bool) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.blocking = blocking
	}
}

// WithPilotRequired aborts the flight when the pilot channel dies after takeoff
func WithPilotRequired(required bool) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.pilotRequired = required
	}
}

// Orchestrator ties the device channels, the feature extractors and a Mode
// into the control loop of one flight
type Orchestrator struct {
	channels Channels
	mode     Mode
	visual   *features.Visual
	history  *history.History

	logger   *slog.Logger
	clock    clock.Clock
	recorder Recorder
	store    TelemetryStore
	flightID string

	tick          time.Duration
	initTimeout   time.Duration
	joinTimeout   time.Duration
	maxTicks      int
	blocking      bool
	pilotRequired bool

	state atomic.Int32
	dim   int
	ticks int

	errs chan channelError
	wg   sync.WaitGroup
}

// NewOrchestrator creates an orchestrator for one flight
func NewOrchestrator(channels Channels, mode Mode, visual *features.Visual, hist *history.History, session SessionConfig, options ...func(*Orchestrator)) *Orchestrator {
	o := Orchestrator{
		channels:    channels,
		mode:        mode,
		visual:      visual,
		history:     hist,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:       clock.New(),
		tick:        session.Tick,
		initTimeout: session.Init,
		joinTimeout: session.Join,
		maxTicks:    session.MaxTicks,
		errs:        make(chan channelError, 16),

		pilotRequired: true,
	}

	for _, option := range options {
		option(&o)
	}

	return &o
}

// State returns the current lifecycle state
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Ticks returns the number of recorded timesteps
func (o *Orchestrator) Ticks() int {
	return o.ticks
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.logger.Info("state changed", slog.String("state", s.String()))
}

// Run flies one session. A land command is sent on every exit path, then all
// channels are stopped and the recorder is closed.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		o.setState(Landed)
		if sErr := o.shutdown(ctx); sErr != nil {
			err = errors.Join(err, sErr)
		}
	}()

	o.setState(ChannelsInitializing)
	if err = o.start(ctx); err != nil {
		return err
	}
	if err = o.waitAlive(ctx); err != nil {
		return err
	}
	o.setState(ChannelsReady)

	frame, tm, err := o.readFirst(ctx)
	if err != nil {
		return err
	}
	o.setState(FeatureExtractionReady)

	if err = o.waitTakeoff(ctx); err != nil {
		return err
	}
	o.setState(Flying)

	return o.fly(ctx, frame, tm)
}

// start launches the channel workers behind a start gate
func (o *Orchestrator) start(ctx context.Context) error {
	type starter struct {
		name  string
		start func(context.Context) (<-chan error, error)
	}

	// the command channel outlives ctx so the land command is delivered on interrupt
	startCommand := func(ctx context.Context) (<-chan error, error) {
		return o.channels.Command.Start(context.WithoutCancel(ctx))
	}

	starters := []starter{
		{o.channels.Command.Name(), startCommand},
		{o.channels.Telemetry.Name(), o.channels.Telemetry.Start},
		{o.channels.Camera.Name(), o.channels.Camera.Start},
		{o.channels.Pilot.Name(), o.channels.Pilot.Start},
	}

	startGate := make(chan struct{})
	defer close(startGate)

	for _, s := range starters {
		errs, err := s.start(ctx)
		if err != nil {
			return fmt.Errorf("starting %s: %w", s.name, err)
		}

		o.wg.Add(1)
		go o.forwardErrors(s.name, errs, startGate)
	}

	return nil
}

// forwardErrors fans a channel's errors into the orchestrator's error queue
func (o *Orchestrator) forwardErrors(name string, errs <-chan error, startGate chan struct{}) {
	defer o.wg.Done()

	<-startGate

	for err := range errs {
		select {
		case o.errs <- channelError{channel: name, err: err}:
		default:
			o.logger.Warn("error queue full", slog.String("channel", name), slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) waitAlive(ctx context.Context) error {
	deadline := o.clock.Timer(o.initTimeout)
	defer deadline.Stop()

	ticker := o.clock.Ticker(aliveCheckInterval)
	defer ticker.Stop()

	for {
		if o.channels.Command.Alive() && o.channels.Telemetry.Alive() &&
			o.channels.Camera.Alive() && o.channels.Pilot.Alive() {
			return nil
		}

		if err := o.checkErrors(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w after %s", ErrInitTimeout, o.initTimeout)
		case <-ticker.C:
		}
	}
}

// readFirst waits for one frame and one telemetry sample and fixes the
// feature dimension
func (o *Orchestrator) readFirst(ctx context.Context) (camera.Frame, telemetry.Telemetry, error) {
	ctx, cancel := o.clock.WithTimeout(ctx, o.initTimeout)
	defer cancel()

	// motion is measured within this flight only
	o.visual.Reset()

	frame, err := o.channels.Camera.ReadFirst(ctx)
	if err != nil {
		return frame, telemetry.Telemetry{}, err
	}

	tm, err := o.channels.Telemetry.ReadFirst(ctx)
	if err != nil {
		return frame, tm, err
	}

	o.history.UpdateTelemetry(tm)

	x, err := o.extract(ctx, frame)
	if err != nil {
		return frame, tm, fmt.Errorf("extracting first features: %w", err)
	}

	o.dim = len(x)
	o.logger.Info("feature dimension fixed",
		slog.Int("features", o.dim),
		slog.Int("width", frame.Image.Bounds().Dx()),
		slog.Int("height", frame.Image.Bounds().Dy()),
	)

	return frame, tm, nil
}

// waitTakeoff forwards pilot commands until one of them takes off
func (o *Orchestrator) waitTakeoff(ctx context.Context) error {
	o.logger.Info("waiting for takeoff")

	ticker := o.clock.Ticker(o.tick)
	defer ticker.Stop()

	for {
		if cmd, ok := o.channels.Pilot.TryRead(); ok {
			o.channels.Command.Send(cmd)

			if cmd.T {
				o.logger.Info("takeoff")
				return nil
			}
		}

		if err := o.checkErrors(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) fly(ctx context.Context, frame camera.Frame, tm telemetry.Telemetry) error {
	ticker := o.clock.Ticker(o.tick)
	defer ticker.Stop()

	expert := command.Default()

	for timestep := 1; o.maxTicks == 0 || timestep <= o.maxTicks; timestep++ {
		if cmd, ok := o.channels.Pilot.TryRead(); ok {
			if cmd.L {
				o.logger.Info("pilot requested landing", slog.Int("timestep", timestep))
				return nil
			}
			expert = cmd
		}

		var err error
		if frame, tm, err = o.observe(ctx, frame, tm); err != nil {
			return err
		}

		x, err := o.extract(ctx, frame)
		if err != nil {
			return fmt.Errorf("timestep %d: %w", timestep, err)
		}

		in := TickInput{
			Timestep:  timestep,
			Features:  x,
			Expert:    expert.WithSource(command.Expert),
			Telemetry: tm,
			Frame:     frame,
		}

		cmd, err := o.mode.Tick(ctx, &in)
		if err != nil {
			return fmt.Errorf("timestep %d: deciding command: %w", timestep, err)
		}

		if !o.channels.Command.Send(cmd) {
			o.logger.Debug("command dropped", slog.Int("timestep", timestep))
		}
		o.history.UpdateCommand(cmd)

		if err = o.record(ctx, &in, cmd); err != nil {
			return fmt.Errorf("timestep %d: %w", timestep, err)
		}
		o.ticks = timestep

		if err = o.checkErrors(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	o.logger.Info("tick limit reached", slog.Int("ticks", o.ticks))
	return nil
}

// observe returns the freshest frame and telemetry sample. Blocking reads wait
// for new values, otherwise the last ones are reused when nothing new arrived.
func (o *Orchestrator) observe(ctx context.Context, frame camera.Frame, tm telemetry.Telemetry) (camera.Frame, telemetry.Telemetry, error) {
	if o.blocking {
		readCtx, cancel := o.clock.WithTimeout(ctx, o.initTimeout)
		defer cancel()

		var err error
		if frame, err = o.channels.Camera.Read(readCtx); err != nil {
			return frame, tm, err
		}
		if tm, err = o.channels.Telemetry.Read(readCtx); err != nil {
			return frame, tm, err
		}

		o.history.UpdateTelemetry(tm)
		return frame, tm, nil
	}

	if f, ok := o.channels.Camera.TryRead(); ok {
		frame = f
	}
	if t, ok := o.channels.Telemetry.TryRead(); ok {
		tm = t
		o.history.UpdateTelemetry(tm)
	}

	return frame, tm, nil
}

// extract builds the feature vector: visual features, then the command and
// telemetry history
func (o *Orchestrator) extract(ctx context.Context, frame camera.Frame) ([]float64, error) {
	visual, err := o.visual.Extract(ctx, frame.Image)
	if err != nil {
		return nil, err
	}

	x := append(visual, o.history.Extract()...)
	if o.dim != 0 && len(x) != o.dim {
		return nil, fmt.Errorf("feature dimension changed from %d to %d", o.dim, len(x))
	}

	return x, nil
}

func (o *Orchestrator) record(ctx context.Context, in *TickInput, cmd command.Command) error {
	if o.recorder != nil {
		step := trajectory.Step{
			Timestep: in.Timestep,
			Frame:    in.Frame.Image,
			Features: in.Features,
			Drone:    cmd,
			Expert:   in.Expert,
		}
		if err := o.recorder.Record(step); err != nil {
			return fmt.Errorf("recording: %w", err)
		}
	}

	if o.store != nil {
		if _, err := o.store.StoreTelemetry(ctx, o.flightID, in.Timestep, &in.Telemetry); err != nil {
			o.logger.Warn(fmt.Sprintf("storing telemetry: %s", err.Error()), slog.Int("timestep", in.Timestep))
		}
	}

	return nil
}

// checkErrors drains the error queue. Connectivity errors of the command,
// telemetry and camera channels abort the flight. A dead pilot channel is
// tolerated after takeoff unless the pilot is required.
func (o *Orchestrator) checkErrors() error {
	for {
		select {
		case ce := <-o.errs:
			if ce.channel == o.channels.Pilot.Name() && !o.pilotRequired && o.State() == Flying {
				o.logger.Error(ce.err.Error(), slog.String("channel", ce.channel), slog.String("action", "continuing without pilot"))
				continue
			}
			return fmt.Errorf("channel %s failed: %w", ce.channel, ce.err)

		default:
			return nil
		}
	}
}

// shutdown lands, stops every channel and releases the recording resources
func (o *Orchestrator) shutdown(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error

	if err := o.mode.Exit(ctx); err != nil {
		errs = append(errs, fmt.Errorf("leaving mode: %w", err))
	}

	if o.channels.Command.IsRunning() {
		o.channels.Command.Land()
		o.logger.Info("land command sent")
	}

	stoppers := []struct {
		name string
		stop func(time.Duration) error
	}{
		{o.channels.Command.Name(), o.channels.Command.Stop},
		{o.channels.Camera.Name(), o.channels.Camera.Stop},
		{o.channels.Telemetry.Name(), o.channels.Telemetry.Stop},
		{o.channels.Pilot.Name(), o.channels.Pilot.Stop},
	}
	joined := true
	for _, s := range stoppers {
		if err := s.stop(o.joinTimeout); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", s.name, err))
			joined = false
		}
	}

	// a worker that missed its join timeout still holds its error channel open
	if joined {
		o.wg.Wait()
	}

	if o.recorder != nil {
		if err := o.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing recorder: %w", err))
		}
	}

	stats := o.channels.Command.Stats()
	o.logger.Info("flight finished",
		slog.Int("ticks", o.ticks),
		slog.Group("commands",
			slog.String("sent", humanize.Comma(int64(stats.Puts))),
			slog.String("dropped", humanize.Comma(int64(stats.Drops))),
		),
	)

	return errors.Join(errs...)
}
