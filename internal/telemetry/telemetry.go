package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrIncomplete is returned when navdata lacks one of the required fields
var ErrIncomplete = errors.New("incomplete navdata")

// Telemetry is the attitude and altitude sample reported by the drone
type Telemetry struct {
	Timestamp time.Time `json:"timestamp"` // Time the sample was received
	Altitude  float64   `json:"altitude"`  // Altitude in millimeters, as reported
	Pitch     float64   `json:"pitch"`     // Pitch angle in degrees
	Roll      float64   `json:"roll"`      // Roll angle in degrees
	Yaw       float64   `json:"yaw"`       // Yaw angle in degrees
}

// Values returns altitude, pitch, roll and yaw in this order
func (t Telemetry) Values() [4]float64 {
	return [4]float64{t.Altitude, t.Pitch, t.Roll, t.Yaw}
}

// Navdata is the wire shape of a navdata response. Every field is optional
// on the wire and checked once in Decode.
type Navdata struct {
	Demo *struct {
		Altitude *float64 `json:"altitude"`
		Rotation *struct {
			Pitch *float64 `json:"pitch"`
			Roll  *float64 `json:"roll"`
			Yaw   *float64 `json:"yaw"`
		} `json:"rotation"`
	} `json:"demo"`
}

// Decode parses a navdata JSON document received at ts
func Decode(data []byte, ts time.Time) (*Telemetry, error) {
	var nd Navdata
	if err := json.Unmarshal(data, &nd); err != nil {
		return nil, fmt.Errorf("unmarshaling navdata: %w", err)
	}

	switch {
	case nd.Demo == nil:
		return nil, fmt.Errorf("%w: missing demo", ErrIncomplete)
	case nd.Demo.Altitude == nil:
		return nil, fmt.Errorf("%w: missing altitude", ErrIncomplete)
	case nd.Demo.Rotation == nil:
		return nil, fmt.Errorf("%w: missing rotation", ErrIncomplete)
	}

	rot := nd.Demo.Rotation
	if rot.Pitch == nil || rot.Roll == nil || rot.Yaw == nil {
		return nil, fmt.Errorf("%w: missing rotation angle", ErrIncomplete)
	}

	return &Telemetry{
		Timestamp: ts,
		Altitude:  *nd.Demo.Altitude,
		Pitch:     *rot.Pitch,
		Roll:      *rot.Roll,
		Yaw:       *rot.Yaw,
	}, nil
}
