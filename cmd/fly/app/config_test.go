package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/roman-kulish/drone-dagger/internal/dagger"
	"github.com/roman-kulish/drone-dagger/internal/tiling"
)

func validConfig() *Config {
	c := DefaultConfig()
	c.Links = LinksConfig{
		Command:   "127.0.0.1:9001",
		Telemetry: "127.0.0.1:9002",
		Camera:    "http://127.0.0.1:9003/frame",
		Pilot:     "127.0.0.1:9004",
		Timeout:   time.Second,
	}
	return c
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults with links",
			modify: func(c *Config) {},
		},
		{
			name:    "unknown mode",
			modify:  func(c *Config) { c.Session.Mode = "hover" },
			wantErr: "unknown mode",
		},
		{
			name:    "unknown learner",
			modify:  func(c *Config) { c.Session.Learning = "lasso" },
			wantErr: "unknown learning algorithm",
		},
		{
			name:    "zero iteration",
			modify:  func(c *Config) { c.Session.Iteration = 0 },
			wantErr: "iteration must be positive",
		},
		{
			name:    "test mode in the first iteration",
			modify:  func(c *Config) { c.Session.Mode = ModeTest },
			wantErr: "test mode needs a policy",
		},
		{
			name:    "blend decay above one",
			modify:  func(c *Config) { c.Session.BlendDecay = 1.5 },
			wantErr: "blend decay",
		},
		{
			name:    "negative ridge alpha",
			modify:  func(c *Config) { c.Session.Alpha = -0.1 },
			wantErr: "ridge alpha",
		},
		{
			name:    "negative feature workers",
			modify:  func(c *Config) { c.Features.Workers = -2 },
			wantErr: "feature workers",
		},
		{
			name:    "port below range",
			modify:  func(c *Config) { c.Links.Command = "127.0.0.1:8080" },
			wantErr: "command link: port 8080 is outside 9000-9500",
		},
		{
			name:    "camera port above range",
			modify:  func(c *Config) { c.Links.Camera = "http://127.0.0.1:9600/" },
			wantErr: "camera link: port 9600",
		},
		{
			name:    "missing telemetry",
			modify:  func(c *Config) { c.Links.Telemetry = "" },
			wantErr: "telemetry link: address is required",
		},
		{
			name:   "camera replay directory",
			modify: func(c *Config) { c.Links.Camera = "file:///data/1/1" },
		},
		{
			name:   "stdin pilot",
			modify: func(c *Config) { c.Links.Pilot = StdinPilot },
		},
		{
			name: "train needs no links",
			modify: func(c *Config) {
				c.Session.Mode = ModeTrain
				c.Links = LinksConfig{Timeout: time.Second}
			},
		},
		{
			name: "annotate needs only the pilot",
			modify: func(c *Config) {
				c.Session.Mode = ModeAnnotate
				c.Links = LinksConfig{Timeout: time.Second}
			},
			wantErr: "pilot link",
		},
		{
			name:    "invalid grid",
			modify:  func(c *Config) { c.Features.Grid = tiling.Grid{Cols: 0, Rows: 2} },
			wantErr: "invalid grid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(c)

			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
settings:
  logLevel: debug
session:
  mode: test
  learning: ordinary_least_squares
  iteration: 3
  trajectory: 2
  alpha: 0.25
  tickInterval: 50ms
links:
  command: 127.0.0.1:9001
  telemetry: 127.0.0.1:9002
  camera: http://127.0.0.1:9003/
  pilot: "-"
features:
  grid:
    cols: 2
    rows: 2
    overlap: 0.1
  workers: 2
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := DefaultConfig()
	want.Settings.LogLevel = "debug"
	want.Session.Mode = ModeTest
	want.Session.Learning = dagger.OrdinaryLeastSquares
	want.Session.Iteration = 3
	want.Session.Trajectory = 2
	want.Session.Alpha = 0.25
	want.Session.Tick = 50 * time.Millisecond
	want.Links.Command = "127.0.0.1:9001"
	want.Links.Telemetry = "127.0.0.1:9002"
	want.Links.Camera = "http://127.0.0.1:9003/"
	want.Links.Pilot = StdinPilot
	want.Features.Grid = tiling.Grid{Cols: 2, Rows: 2, Overlap: 0.1}
	want.Features.Workers = 2

	if diff := cmp.Diff(want, config); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("session:\n  mode: hover\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected an error")
	}
}
