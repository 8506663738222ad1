package app

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/drone-dagger/internal/dagger"
	"github.com/roman-kulish/drone-dagger/internal/tiling"
)

const (
	ModeTrain    = "train"
	ModeExec     = "exec"
	ModeTest     = "test"
	ModeAnnotate = "annotate"

	minPort = 9000
	maxPort = 9500

	// StdinPilot reads pilot commands from the standard input
	StdinPilot = "-"
)

// Config represents the main application configuration
type Config struct {
	Settings Settings       `yaml:"settings"`
	Session  SessionConfig  `yaml:"session"`
	Links    LinksConfig    `yaml:"links"`
	Features FeaturesConfig `yaml:"features"`
	Storage  StorageConfig  `yaml:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile"`

	// GUI renders command overlays for every recorded frame
	GUI bool `yaml:"gui"`
}

// SessionConfig selects what the session does and paces the control loop
type SessionConfig struct {
	Mode       string        `yaml:"mode"`
	Learning   string        `yaml:"learning"`
	Alpha      float64       `yaml:"alpha"`
	Iteration  int           `yaml:"iteration"`
	Trajectory int           `yaml:"trajectory"`
	DataDir    string        `yaml:"dataDir"`
	BlendDecay float64       `yaml:"blendDecay"`
	MaxTicks   int           `yaml:"maxTicks"`
	Watch      bool          `yaml:"watch"`
	Tick       time.Duration `yaml:"tickInterval"`
	Init       time.Duration `yaml:"initTimeout"`
	Join       time.Duration `yaml:"joinTimeout"`
}

// LinksConfig holds the device endpoints
type LinksConfig struct {
	Command   string        `yaml:"command"`
	Telemetry string        `yaml:"telemetry"`
	Camera    string        `yaml:"camera"`
	Pilot     string        `yaml:"pilot"`
	Timeout   time.Duration `yaml:"timeout"`
}

// FeaturesConfig shapes the feature vector
type FeaturesConfig struct {
	Grid       tiling.Grid   `yaml:"grid"`
	TileWidth  int           `yaml:"tileWidth"`
	TileHeight int           `yaml:"tileHeight"`
	Workers    int           `yaml:"workers"` // 0 uses every CPU
	History    HistoryConfig `yaml:"history"`
}

type HistoryConfig struct {
	Feats  int `yaml:"feats"`
	Length int `yaml:"length"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Database string `yaml:"database"`
}

// DefaultConfig returns a configuration with every optional value set
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{LogLevel: "info"},
		Session: SessionConfig{
			Mode:       ModeExec,
			Learning:   dagger.Tikhonov,
			Iteration:  1,
			Trajectory: 1,
			DataDir:    "data",
			BlendDecay: 0.5,
			Tick:       100 * time.Millisecond,
			Init:       10 * time.Second,
			Join:       2 * time.Second,
		},
		Links: LinksConfig{
			Timeout: 2 * time.Second,
		},
		Features: FeaturesConfig{
			Grid:       tiling.Grid{Cols: 4, Rows: 3, Overlap: 0.25},
			TileWidth:  64,
			TileHeight: 64,
			History:    HistoryConfig{Feats: 7, Length: 10},
		},
		Storage: StorageConfig{Database: "flights.db"},
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks the configuration once so the rest of the application can
// treat it as trusted input
func (c *Config) Validate() error {
	var errs []error

	s := c.Session
	switch s.Mode {
	case ModeTrain, ModeExec, ModeTest, ModeAnnotate:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", s.Mode))
	}

	if !dagger.ValidLearner(s.Learning) {
		errs = append(errs, fmt.Errorf("unknown learning algorithm %q", s.Learning))
	}
	if s.Alpha < 0 {
		errs = append(errs, fmt.Errorf("ridge alpha must not be negative, got %v", s.Alpha))
	}
	if s.Iteration < 1 {
		errs = append(errs, fmt.Errorf("iteration must be positive, got %d", s.Iteration))
	}
	if s.Trajectory < 1 {
		errs = append(errs, fmt.Errorf("trajectory must be positive, got %d", s.Trajectory))
	}
	if s.Mode == ModeTest && s.Iteration < 2 {
		errs = append(errs, errors.New("test mode needs a policy from an earlier iteration"))
	}
	if s.DataDir == "" {
		errs = append(errs, errors.New("data directory is required"))
	}
	if s.BlendDecay < 0 || s.BlendDecay > 1 {
		errs = append(errs, fmt.Errorf("blend decay must be within [0, 1], got %v", s.BlendDecay))
	}
	if s.MaxTicks < 0 {
		errs = append(errs, fmt.Errorf("max ticks must not be negative, got %d", s.MaxTicks))
	}
	if s.Tick <= 0 || s.Init <= 0 || s.Join <= 0 {
		errs = append(errs, errors.New("tick interval and timeouts must be positive"))
	}

	if err := c.Features.Grid.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Features.Workers < 0 {
		errs = append(errs, fmt.Errorf("feature workers must not be negative, got %d", c.Features.Workers))
	}
	if c.Features.History.Feats < 1 || c.Features.History.Length < 1 {
		errs = append(errs, errors.New("history feats and length must be positive"))
	}

	errs = append(errs, c.Links.validate(s.Mode)...)

	return errors.Join(errs...)
}

func (l LinksConfig) validate(mode string) []error {
	var errs []error

	check := func(name, address string, isURL bool) {
		if err := validateEndpoint(address, isURL); err != nil {
			errs = append(errs, fmt.Errorf("%s link: %w", name, err))
		}
	}

	switch mode {
	case ModeExec, ModeTest:
		check("command", l.Command, false)
		check("telemetry", l.Telemetry, false)
		if _, ok := CameraDir(l.Camera); !ok {
			check("camera", l.Camera, true)
		}
		fallthrough

	case ModeAnnotate:
		if l.Pilot != StdinPilot {
			check("pilot", l.Pilot, false)
		}
	}

	if l.Timeout <= 0 {
		errs = append(errs, errors.New("link timeout must be positive"))
	}

	return errs
}

// CameraDir returns the directory of a file:// camera address, which replays
// recorded frames instead of polling a camera server
func CameraDir(address string) (string, bool) {
	u, err := url.Parse(address)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	return u.Path, true
}

// validateEndpoint checks that an address carries a port in the allowed range
func validateEndpoint(address string, isURL bool) error {
	if address == "" {
		return errors.New("address is required")
	}

	var port string
	if isURL {
		u, err := url.Parse(address)
		if err != nil {
			return fmt.Errorf("parsing %q: %w", address, err)
		}
		port = u.Port()
	} else {
		var err error
		if _, port, err = net.SplitHostPort(address); err != nil {
			return fmt.Errorf("parsing %q: %w", address, err)
		}
	}

	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port in %q", address)
	}
	if n < minPort || n > maxPort {
		return fmt.Errorf("port %d is outside %d-%d", n, minPort, maxPort)
	}

	return nil
}
