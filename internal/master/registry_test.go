package master

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourdrec/fourdrec/internal/camera"
	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/observability"
)

func testLogger() *slog.Logger {
	return observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
}

// stateSink records state notifications in arrival order.
type stateSink struct {
	mu      sync.Mutex
	serials []string
	states  []camera.State
}

func (s *stateSink) listen(serial string, status camera.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serials = append(s.serials, serial)
	s.states = append(s.states, status.State)
}

func (s *stateSink) last() (camera.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return 0, false
	}
	return s.states[len(s.states)-1], true
}

func (s *stateSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func TestProxyGoesOfflineAfterSilence(t *testing.T) {
	deadline := 100 * time.Millisecond
	reg := NewRegistry([]string{"cam-x"}, deadline, testLogger())

	sink := &stateSink{}
	reg.RegisterStateListener(sink.listen)

	var recMu sync.Mutex
	var records []ImageRecord
	reg.RegisterImageConsumer(func(rec ImageRecord) {
		recMu.Lock()
		records = append(records, rec)
		recMu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx)

	begin := time.Now()
	reg.Apply(camera.StatusReport{"cam-x": {State: camera.StateStandby}})

	st, ok := sink.last()
	require.True(t, ok)
	assert.Equal(t, camera.StateStandby, st)

	// Then silence: the sweep must flip the proxy to OFFLINE.
	require.Eventually(t, func() bool {
		st, ok := sink.last()
		return ok && st == camera.StateOffline
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(begin), deadline)

	status, ok := reg.StatusOf("cam-x")
	require.True(t, ok)
	assert.Equal(t, camera.StateOffline, status.State)

	// Both transitions pushed synthetic records to the image stream.
	recMu.Lock()
	defer recMu.Unlock()
	require.Len(t, records, 2)
	assert.Equal(t, camera.StateStandby, records[0].State)
	assert.Equal(t, camera.StateOffline, records[1].State)
	assert.True(t, records[0].Synthetic())
	assert.True(t, records[1].Synthetic())
}

func TestHeartbeatsKeepProxyOnline(t *testing.T) {
	deadline := 80 * time.Millisecond
	reg := NewRegistry([]string{"cam-x"}, deadline, testLogger())

	sink := &stateSink{}
	reg.RegisterStateListener(sink.listen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx)

	stop := time.Now().Add(4 * deadline)
	for time.Now().Before(stop) {
		reg.Apply(camera.StatusReport{"cam-x": {State: camera.StateStandby}})
		time.Sleep(deadline / 4)
	}

	status, _ := reg.StatusOf("cam-x")
	assert.Equal(t, camera.StateStandby, status.State)
	st, ok := sink.last()
	require.True(t, ok)
	assert.NotEqual(t, camera.StateOffline, st)
}

func TestRepeatedStateIsAbsorbed(t *testing.T) {
	reg := NewRegistry([]string{"cam-x"}, time.Minute, testLogger())
	sink := &stateSink{}
	reg.RegisterStateListener(sink.listen)

	for i := 0; i < 3; i++ {
		reg.Apply(camera.StatusReport{"cam-x": {State: camera.StateStandby, PerfBias: float64(i)}})
	}
	assert.Equal(t, 1, sink.count(), "repeated STANDBY must not notify")

	// CAPTURING keeps notifying, the frame counters move every heartbeat.
	for i := 0; i < 3; i++ {
		reg.Apply(camera.StatusReport{"cam-x": {State: camera.StateCapturing, CurrentFrame: 100 + i}})
	}
	assert.Equal(t, 4, sink.count())

	reg.Apply(camera.StatusReport{"cam-x": {State: camera.StateStandby}})
	assert.Equal(t, 5, sink.count())
}

func TestStatusOutsideTopologyIgnored(t *testing.T) {
	reg := NewRegistry([]string{"cam-x"}, time.Minute, testLogger())
	sink := &stateSink{}
	reg.RegisterStateListener(sink.listen)

	reg.Apply(camera.StatusReport{"cam-unknown": {State: camera.StateCapturing}})
	assert.Zero(t, sink.count())
	_, ok := reg.StatusOf("cam-unknown")
	assert.False(t, ok)
}

func TestUnregisteredListenerStopsReceiving(t *testing.T) {
	reg := NewRegistry([]string{"cam-x"}, time.Minute, testLogger())
	sink := &stateSink{}
	id := reg.RegisterStateListener(sink.listen)

	reg.Apply(camera.StatusReport{"cam-x": {State: camera.StateStandby}})
	require.Equal(t, 1, sink.count())

	reg.UnregisterStateListener(id)
	reg.Apply(camera.StatusReport{"cam-x": {State: camera.StateCapturing}})
	assert.Equal(t, 1, sink.count())
}

func TestRegistrySerialsSortedAndDeduped(t *testing.T) {
	reg := NewRegistry([]string{"cam-b", "cam-a", "cam-b"}, time.Minute, testLogger())
	assert.Equal(t, []string{"cam-a", "cam-b"}, reg.Serials())
	assert.Len(t, reg.Status(), 2)
}
