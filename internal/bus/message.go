// Package bus carries the control-plane traffic between the master and its
// slaves. Messages are small typed records: a kind, a flat string header and
// at most one opaque payload blob. Delivery is ordered per (sender, kind);
// nothing is guaranteed across kinds.
package bus

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Kind identifies one message type on the wire. Values are part of the wire
// contract and must not be renumbered.
type Kind uint16

const (
	// KindSlaveUp is the handshake a slave sends right after dialing.
	KindSlaveUp Kind = 1
	// KindMasterUp announces the master is alive, sent to each slave on
	// registration and broadcast on startup.
	KindMasterUp Kind = 2
	// KindMasterDown announces master shutdown. Slaves exit on receipt.
	KindMasterDown Kind = 3
	// KindSlaveDown announces a clean slave shutdown.
	KindSlaveDown Kind = 4
	// KindSlaveError carries a structured slave-side error report.
	KindSlaveError Kind = 5
	// KindSlaveRestart directs one named slave to exit for respawn.
	KindSlaveRestart Kind = 6
	// KindToggleLiveView starts or stops live preview on a set of cameras.
	KindToggleLiveView Kind = 7
	// KindLiveViewImage carries one JPEG preview frame.
	KindLiveViewImage Kind = 8
	// KindToggleRecording starts or stops a shot recording.
	KindToggleRecording Kind = 9
	// KindRecordReport is a camera's per-shot recording summary.
	KindRecordReport Kind = 10
	// KindGetShotImage asks a camera runtime for one recorded frame.
	KindGetShotImage Kind = 11
	// KindShotImage answers KindGetShotImage with a JPEG.
	KindShotImage Kind = 12
	// KindSubmitShot asks slaves to publish shot frames to the submit root.
	KindSubmitShot Kind = 13
	// KindSubmitReport reports per-camera submit progress.
	KindSubmitReport Kind = 14
	// KindCameraStatus is the periodic per-slave camera status heartbeat.
	KindCameraStatus Kind = 15
	// KindCameraParm adjusts a hardware control on every camera.
	KindCameraParm Kind = 16
	// KindRetrigger re-arms the hardware trigger on every camera.
	KindRetrigger Kind = 17
	// KindRemoveShot deletes a shot's recorded files on every slave.
	KindRemoveShot Kind = 18
	// KindSlaveStatus is the periodic host-level resource report.
	KindSlaveStatus Kind = 19
)

// String returns the wire name used in logs.
func (k Kind) String() string {
	switch k {
	case KindSlaveUp:
		return "SLAVE_UP"
	case KindMasterUp:
		return "MASTER_UP"
	case KindMasterDown:
		return "MASTER_DOWN"
	case KindSlaveDown:
		return "SLAVE_DOWN"
	case KindSlaveError:
		return "SLAVE_ERROR"
	case KindSlaveRestart:
		return "SLAVE_RESTART"
	case KindToggleLiveView:
		return "TOGGLE_LIVE_VIEW"
	case KindLiveViewImage:
		return "LIVE_VIEW_IMAGE"
	case KindToggleRecording:
		return "TOGGLE_RECORDING"
	case KindRecordReport:
		return "RECORD_REPORT"
	case KindGetShotImage:
		return "GET_SHOT_IMAGE"
	case KindShotImage:
		return "SHOT_IMAGE"
	case KindSubmitShot:
		return "SUBMIT_SHOT"
	case KindSubmitReport:
		return "SUBMIT_REPORT"
	case KindCameraStatus:
		return "CAMERA_STATUS"
	case KindCameraParm:
		return "CAMERA_PARM"
	case KindRetrigger:
		return "RETRIGGER"
	case KindRemoveShot:
		return "REMOVE_SHOT"
	case KindSlaveStatus:
		return "SLAVE_STATUS"
	default:
		return fmt.Sprintf("KIND(%d)", uint16(k))
	}
}

// IsValid reports whether the kind is part of the wire contract.
func (k Kind) IsValid() bool {
	return k >= KindSlaveUp && k <= KindSlaveStatus
}

// Header keys shared by several kinds.
const (
	HeaderHostname  = "hostname"
	HeaderSlaveName = "slave_name"
	HeaderCameraID  = "camera_id"
	HeaderShotID    = "shot_id"
	HeaderJobName   = "job_name"
	HeaderFrame     = "frame"
)

// Header is the flat key to value map attached to every message.
type Header map[string]string

// Get returns the raw value for key.
func (h Header) Get(key string) (string, bool) {
	v, ok := h[key]
	return v, ok
}

// Int parses the value for key as a decimal integer.
func (h Header) Int(key string) (int, error) {
	v, ok := h[key]
	if !ok {
		return 0, fmt.Errorf("header %q missing", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("header %q: %w", key, err)
	}
	return n, nil
}

// Message is one bus frame. ID is assigned by the sender and survives the
// wire so request/response pairs and duplicate logs can be correlated.
type Message struct {
	Kind    Kind
	ID      uuid.UUID
	Header  Header
	Payload []byte
}

// NewMessage builds a message with a fresh id and an initialized header.
func NewMessage(kind Kind) Message {
	return Message{Kind: kind, ID: uuid.New(), Header: Header{}}
}
