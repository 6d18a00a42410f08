// Package camera defines the camera state model shared by the master and
// the slaves: the per-camera state machine, the status record carried by
// CAMERA_STATUS messages, and the driver contract a vendor SDK must satisfy.
package camera

import "fmt"

// State describes where a camera sits in its capture state machine.
type State int

const (
	// StateClose means the camera is known but not opened.
	StateClose State = iota
	// StateStandby means the camera is opened and armed, waiting for a
	// hardware trigger edge.
	StateStandby
	// StateCapturing means frames are flowing.
	StateCapturing
	// StateOffline means the camera (or its slave) stopped reporting.
	StateOffline
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClose:
		return "close"
	case StateStandby:
		return "standby"
	case StateCapturing:
		return "capturing"
	case StateOffline:
		return "offline"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the record a slave reports for one camera. The master keeps the
// latest Status per camera inside its proxy registry.
type Status struct {
	State State `json:"state"`
	// PerfBias is the measured gap in seconds between the hardware trigger
	// and the frame readout. Large values indicate a camera drifting out of
	// sync with the rig.
	PerfBias float64 `json:"perf_bias"`
	// CurrentFrame is the in-progress frame number while capturing.
	CurrentFrame int `json:"current_frame"`
	// RecordFramesCount counts frames appended to the current shot file.
	RecordFramesCount int `json:"record_frames_count"`
}

// Patch applies a partial update expressed as a key to value map. Numeric
// values arrive as float64 when they crossed a JSON boundary, so both int
// and float64 are accepted for the integer fields.
func (s *Status) Patch(fields map[string]any) error {
	for key, value := range fields {
		switch key {
		case "state":
			n, err := toInt(value)
			if err != nil {
				return fmt.Errorf("patch state: %w", err)
			}
			s.State = State(n)
		case "perf_bias":
			f, err := toFloat(value)
			if err != nil {
				return fmt.Errorf("patch perf_bias: %w", err)
			}
			s.PerfBias = f
		case "current_frame":
			n, err := toInt(value)
			if err != nil {
				return fmt.Errorf("patch current_frame: %w", err)
			}
			s.CurrentFrame = n
		case "record_frames_count":
			n, err := toInt(value)
			if err != nil {
				return fmt.Errorf("patch record_frames_count: %w", err)
			}
			s.RecordFramesCount = n
		default:
			return fmt.Errorf("patch: unknown status field %q", key)
		}
	}
	return nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case State:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

// StatusReport is the CAMERA_STATUS payload: every camera a slave owns,
// keyed by serial, reported in one message.
type StatusReport map[string]Status
