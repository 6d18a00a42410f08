package master

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type levelSink struct {
	mu     sync.Mutex
	levels []float64
}

func (s *levelSink) push(db float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels = append(s.levels, db)
}

func (s *levelSink) snapshot() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.levels...)
}

func TestMeterEmitsIdleSentinelWhenSilent(t *testing.T) {
	meter := NewMeter(10*time.Millisecond, testLogger())
	sink := &levelSink{}
	meter.Subscribe(sink.push)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go meter.Run(ctx)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 3
	}, time.Second, 5*time.Millisecond)

	for _, db := range sink.snapshot() {
		assert.Equal(t, IdleLevel, db)
	}
}

func TestMeterNewestLevelWins(t *testing.T) {
	meter := NewMeter(20*time.Millisecond, testLogger())
	sink := &levelSink{}
	meter.Subscribe(sink.push)

	meter.Push(-20)
	meter.Push(-5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go meter.Run(ctx)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 2
	}, time.Second, 5*time.Millisecond)

	levels := sink.snapshot()
	assert.Equal(t, -5.0, levels[0], "only the newest pushed level survives to the tick")
	assert.Equal(t, IdleLevel, levels[1], "the slot drains after one dispatch")
}

func TestMeterThrottlesDispatch(t *testing.T) {
	meter := NewMeter(25*time.Millisecond, testLogger())
	sink := &levelSink{}
	meter.Subscribe(sink.push)

	ctx, cancel := context.WithCancel(context.Background())
	go meter.Run(ctx)

	// Push far faster than the tick; dispatch count follows the ticks.
	stop := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(stop) {
		meter.Push(-12)
		time.Sleep(time.Millisecond)
	}
	cancel()

	count := len(sink.snapshot())
	assert.Greater(t, count, 2)
	assert.Less(t, count, 12, "dispatch must stay throttled to roughly one per tick")
}

func TestMeterUnsubscribe(t *testing.T) {
	meter := NewMeter(10*time.Millisecond, testLogger())
	sink := &levelSink{}
	id := meter.Subscribe(sink.push)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go meter.Run(ctx)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 1
	}, time.Second, 5*time.Millisecond)

	meter.Unsubscribe(id)
	seen := len(sink.snapshot())
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, len(sink.snapshot()), seen+1, "at most one in-flight dispatch after unsubscribe")
}
