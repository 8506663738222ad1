package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// MaxAxis is the magnitude limit of every stick axis
const MaxAxis = 1.0

// ErrOutOfRange is returned when a decoded axis exceeds MaxAxis
var ErrOutOfRange = errors.New("axis out of range")

// Source tags where a command came from. It never goes on the wire.
type Source uint8

const (
	Expert Source = iota
	Policy
)

func (s Source) String() string {
	switch s {
	case Expert:
		return "expert"
	case Policy:
		return "policy"
	default:
		return "unknown"
	}
}

// Command is a single stick/button state sent to the drone
type Command struct {
	X float64 `json:"X"` // left/right
	Y float64 `json:"Y"` // front/back
	Z float64 `json:"Z"` // up/down
	R float64 `json:"R"` // yaw rate
	C int     `json:"C"` // camera select
	T bool    `json:"T"` // takeoff
	L bool    `json:"L"` // land
	S bool    `json:"S"` // stop (hover)

	// A marks a pilot command as an accepted label during annotation
	A bool `json:"A,omitempty"`

	Source Source `json:"-"`
}

// Default returns a hovering expert command
func Default() Command {
	return Command{}
}

// Land returns a land command
func Land() Command {
	return Command{L: true}
}

// Takeoff returns a takeoff command
func Takeoff() Command {
	return Command{T: true}
}

// Axes returns X, Y, Z and R in this order
func (c Command) Axes() [4]float64 {
	return [4]float64{c.X, c.Y, c.Z, c.R}
}

// WithSource returns a copy of c tagged with s
func (c Command) WithSource(s Source) Command {
	c.Source = s
	return c
}

// Validate checks that all axes are finite and within MaxAxis
func (c Command) Validate() error {
	for i, v := range c.Axes() {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > MaxAxis {
			return fmt.Errorf("%w: %c=%v", ErrOutOfRange, "XYZR"[i], v)
		}
	}
	return nil
}

// Clamp limits all axes to [-MaxAxis, MaxAxis]; NaN becomes 0
func (c Command) Clamp() Command {
	clamp := func(v float64) float64 {
		if math.IsNaN(v) {
			return 0
		}
		return math.Max(-MaxAxis, math.Min(MaxAxis, v))
	}

	c.X, c.Y, c.Z, c.R = clamp(c.X), clamp(c.Y), clamp(c.Z), clamp(c.R)
	return c
}

// Encode marshals the command to a single newline terminated JSON line
func (c Command) Encode() ([]byte, error) {
	p, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling command: %w", err)
	}
	return append(p, '\n'), nil
}

// Decode parses a JSON command and validates it. The result is tagged as an
// expert command.
func Decode(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("unmarshaling command: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}

	c.Source = Expert
	return c, nil
}
