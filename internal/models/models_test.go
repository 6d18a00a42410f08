package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULIDRoundTrip(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero())

	parsed, err := ParseULID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	data, err := json.Marshal(id)
	require.NoError(t, err)

	var back ULID
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, id, back)
}

func TestULIDScan(t *testing.T) {
	id := NewULID()

	var fromString ULID
	require.NoError(t, fromString.Scan(id.String()))
	assert.Equal(t, id, fromString)

	var fromBytes ULID
	require.NoError(t, fromBytes.Scan([]byte(id.String())))
	assert.Equal(t, id, fromBytes)

	var fromNil ULID
	require.NoError(t, fromNil.Scan(nil))
	assert.True(t, fromNil.IsZero())

	var bad ULID
	assert.Error(t, bad.Scan(42))
}

func TestShotStateMonotonic(t *testing.T) {
	shot := &Shot{Name: "take01", ProjectID: NewULID()}
	require.NoError(t, shot.Validate())

	require.NoError(t, shot.AdvanceState(ShotStateRecorded))
	require.NoError(t, shot.AdvanceState(ShotStateSubmitted))
	assert.ErrorIs(t, shot.AdvanceState(ShotStateRecorded), ErrStateRegression)
	assert.Equal(t, ShotStateSubmitted, shot.State)

	// Re-applying the current state is a no-op, not a regression.
	require.NoError(t, shot.AdvanceState(ShotStateSubmitted))
}

func TestShotFrameRange(t *testing.T) {
	shot := &Shot{Name: "take01", ProjectID: NewULID()}

	_, _, ok := shot.FrameRange()
	assert.False(t, ok)
	assert.Zero(t, shot.FrameCount())

	start, end := 100, 109
	shot.StartFrame, shot.EndFrame = &start, &end
	s, e, ok := shot.FrameRange()
	assert.True(t, ok)
	assert.Equal(t, 100, s)
	assert.Equal(t, 109, e)
	assert.Equal(t, 10, shot.FrameCount())
}

func TestShotMissingTotal(t *testing.T) {
	shot := &Shot{MissingFrames: MissingFrameMap{"A": {103}, "B": {}}}
	assert.Equal(t, 1, shot.MissingTotal())
}

func TestJobFarmFrames(t *testing.T) {
	job := &Job{
		Name:        "job01",
		ShotID:      NewULID(),
		StartFrame:  5,
		EndFrame:    17,
		OffsetFrame: 5,
	}
	require.NoError(t, job.Validate())

	start, end := job.FarmFrameRange()
	assert.Equal(t, 0, start)
	assert.Equal(t, 12, end)
	assert.Len(t, job.FarmFrames(), 13)
	assert.Equal(t, 13, job.FrameCount())
}

func TestJobAllTasksCompleted(t *testing.T) {
	job := &Job{StartFrame: 0, EndFrame: 2, TaskStates: TaskStateMap{}}
	assert.False(t, job.AllTasksCompleted())

	job.TaskStates = TaskStateMap{0: TaskStateCompleted, 1: TaskStateCompleted, 2: TaskStateRendering}
	assert.False(t, job.AllTasksCompleted())

	job.TaskStates[2] = TaskStateCompleted
	assert.True(t, job.AllTasksCompleted())
}

func TestTaskStateMapEqual(t *testing.T) {
	a := TaskStateMap{0: TaskStateCompleted, 1: TaskStateRendering}
	b := TaskStateMap{0: TaskStateCompleted, 1: TaskStateRendering}
	assert.True(t, a.Equal(b))

	b[1] = TaskStateCompleted
	assert.False(t, a.Equal(b))

	delete(b, 1)
	assert.False(t, a.Equal(b))
}

func TestNormalizeTaskState(t *testing.T) {
	assert.Equal(t, TaskStateCompleted, NormalizeTaskState(5))
	assert.Equal(t, TaskStatePending, NormalizeTaskState(8))
	assert.Equal(t, TaskStateUnknown, NormalizeTaskState(7))
	assert.Equal(t, TaskStateUnknown, NormalizeTaskState(-1))
}

func TestTaskStateString(t *testing.T) {
	assert.Equal(t, "COMPLETED", TaskStateCompleted.String())
	assert.Equal(t, "UNKNOWN", TaskState(99).String())
}

func TestTaskStateMapJSONRoundTrip(t *testing.T) {
	m := TaskStateMap{0: TaskStateCompleted, 12: TaskStateQueued}
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var back TaskStateMap
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, m.Equal(back))
}
