package bus

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fourdrec/fourdrec/internal/camera"
)

// SlaveError is the payload of KindSlaveError. RequireRestart asks the
// master to answer with KindSlaveRestart for this slave.
type SlaveError struct {
	SlaveName      string `json:"slave_name"`
	Text           string `json:"text"`
	RequireRestart bool   `json:"require_restart"`
}

// LiveViewToggle is the payload of KindToggleLiveView.
type LiveViewToggle struct {
	CameraIDs   []string `json:"camera_ids"`
	Quality     int      `json:"quality"`
	ScaleLength int      `json:"scale_length"`
	On          bool     `json:"on"`
}

// RecordToggle is the payload of KindToggleRecording.
type RecordToggle struct {
	IsStart bool   `json:"is_start"`
	ShotID  string `json:"shot_id"`
}

// RecordReport is the payload of KindRecordReport: one camera's summary of
// a finished recording.
type RecordReport struct {
	CameraID string `json:"camera_id"`
	ShotID   string `json:"shot_id"`
	Missing  []int  `json:"missing"`
	Range    [2]int `json:"range"`
	Size     int64  `json:"size"`
}

// ShotImageRequest is the payload of KindGetShotImage.
type ShotImageRequest struct {
	CameraID    string `json:"camera_id"`
	ShotID      string `json:"shot_id"`
	Frame       int    `json:"frame"`
	Quality     int    `json:"quality"`
	ScaleLength int    `json:"scale_length"`
}

// SubmitShot is the payload of KindSubmitShot. ShotPath is the photo
// destination under the submit root; every camera publishes its frames
// below it, keyed by serial.
type SubmitShot struct {
	ShotID     string `json:"shot_id"`
	JobName    string `json:"job_name"`
	ShotPath   string `json:"shot_path"`
	StartFrame int    `json:"start_frame"`
	EndFrame   int    `json:"end_frame"`
	IsCali     bool   `json:"is_cali"`
}

// SubmitReport is the payload of KindSubmitReport. Done is strictly
// increasing per (camera, shot, job).
type SubmitReport struct {
	CameraID string `json:"camera_id"`
	ShotID   string `json:"shot_id"`
	JobName  string `json:"job_name"`
	Done     int    `json:"done"`
	Total    int    `json:"total"`
}

// CameraParm is the payload of KindCameraParm.
type CameraParm struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// DiskUsage is one mounted volume inside a SlaveStatus report.
type DiskUsage struct {
	Path        string  `json:"path"`
	UsedPercent float64 `json:"used_percent"`
	FreeBytes   uint64  `json:"free_bytes"`
}

// SlaveStatus is the payload of KindSlaveStatus: host-level resource usage
// for the dashboard.
type SlaveStatus struct {
	Hostname      string      `json:"hostname"`
	CPUPercent    float64     `json:"cpu_percent"`
	MemoryPercent float64     `json:"memory_percent"`
	Disks         []DiskUsage `json:"disks"`
}

// encodeJSON marshals v into the message payload.
func encodeJSON(kind Kind, v any) (Message, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	m := NewMessage(kind)
	m.Payload = raw
	return m, nil
}

// DecodeJSON unmarshals the payload of m into T.
func DecodeJSON[T any](m Message) (T, error) {
	var v T
	if err := json.Unmarshal(m.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", m.Kind, err)
	}
	return v, nil
}

// NewMasterUp builds a MASTER_UP message.
func NewMasterUp() Message { return NewMessage(KindMasterUp) }

// NewMasterDown builds a MASTER_DOWN message.
func NewMasterDown() Message { return NewMessage(KindMasterDown) }

// NewSlaveUp builds the dial handshake for a slave.
func NewSlaveUp(hostname string) Message {
	m := NewMessage(KindSlaveUp)
	m.Header[HeaderHostname] = hostname
	return m
}

// NewSlaveDown builds a clean-shutdown announcement.
func NewSlaveDown(hostname string) Message {
	m := NewMessage(KindSlaveDown)
	m.Header[HeaderHostname] = hostname
	return m
}

// NewSlaveError builds a SLAVE_ERROR message.
func NewSlaveError(p SlaveError) (Message, error) {
	return encodeJSON(KindSlaveError, p)
}

// NewSlaveRestart builds the restart directive for one named slave.
func NewSlaveRestart(slaveName string) Message {
	m := NewMessage(KindSlaveRestart)
	m.Header[HeaderSlaveName] = slaveName
	return m
}

// NewLiveViewToggle builds a TOGGLE_LIVE_VIEW message.
func NewLiveViewToggle(p LiveViewToggle) (Message, error) {
	return encodeJSON(KindToggleLiveView, p)
}

// NewLiveViewImage wraps one encoded preview frame.
func NewLiveViewImage(cameraID string, frame int, jpeg []byte) Message {
	m := NewMessage(KindLiveViewImage)
	m.Header[HeaderCameraID] = cameraID
	m.Header[HeaderFrame] = strconv.Itoa(frame)
	m.Payload = jpeg
	return m
}

// NewRecordToggle builds a TOGGLE_RECORDING message.
func NewRecordToggle(p RecordToggle) (Message, error) {
	return encodeJSON(KindToggleRecording, p)
}

// NewRecordReport builds a RECORD_REPORT message.
func NewRecordReport(p RecordReport) (Message, error) {
	return encodeJSON(KindRecordReport, p)
}

// NewShotImageRequest builds a GET_SHOT_IMAGE message.
func NewShotImageRequest(p ShotImageRequest) (Message, error) {
	return encodeJSON(KindGetShotImage, p)
}

// NewShotImage answers a GET_SHOT_IMAGE request.
func NewShotImage(cameraID, shotID string, frame int, jpeg []byte) Message {
	m := NewMessage(KindShotImage)
	m.Header[HeaderCameraID] = cameraID
	m.Header[HeaderShotID] = shotID
	m.Header[HeaderFrame] = strconv.Itoa(frame)
	m.Payload = jpeg
	return m
}

// NewSubmitShot builds a SUBMIT_SHOT message.
func NewSubmitShot(p SubmitShot) (Message, error) {
	return encodeJSON(KindSubmitShot, p)
}

// NewSubmitReport builds a SUBMIT_REPORT message.
func NewSubmitReport(p SubmitReport) (Message, error) {
	return encodeJSON(KindSubmitReport, p)
}

// NewCameraStatus wraps a slave's full camera status report.
func NewCameraStatus(report camera.StatusReport) (Message, error) {
	return encodeJSON(KindCameraStatus, report)
}

// NewCameraParm builds a CAMERA_PARM broadcast.
func NewCameraParm(name string, value float64) (Message, error) {
	return encodeJSON(KindCameraParm, CameraParm{Name: name, Value: value})
}

// NewRetrigger builds a RETRIGGER broadcast.
func NewRetrigger() Message { return NewMessage(KindRetrigger) }

// NewRemoveShot asks slaves to delete a shot's recorded files.
func NewRemoveShot(shotID string) Message {
	m := NewMessage(KindRemoveShot)
	m.Header[HeaderShotID] = shotID
	return m
}

// NewSlaveStatus builds a SLAVE_STATUS report.
func NewSlaveStatus(p SlaveStatus) (Message, error) {
	return encodeJSON(KindSlaveStatus, p)
}
