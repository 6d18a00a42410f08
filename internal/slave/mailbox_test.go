package slave

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourdrec/fourdrec/internal/camera"
)

func TestMailboxNewestWins(t *testing.T) {
	m := NewMailbox()

	m.Put(camera.Frame{Number: 1})
	m.Put(camera.Frame{Number: 2})
	m.Put(camera.Frame{Number: 3})

	f, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, 3, f.Number)
}

func TestMailboxTakeBlocksUntilPut(t *testing.T) {
	m := NewMailbox()

	got := make(chan camera.Frame, 1)
	go func() {
		f, ok := m.Take()
		if ok {
			got <- f
		}
	}()

	select {
	case <-got:
		t.Fatal("take returned before any frame was put")
	case <-time.After(20 * time.Millisecond):
	}

	m.Put(camera.Frame{Number: 7})
	select {
	case f := <-got:
		assert.Equal(t, 7, f.Number)
	case <-time.After(time.Second):
		t.Fatal("take did not wake after put")
	}
}

func TestMailboxCloseDrainsLastFrame(t *testing.T) {
	m := NewMailbox()
	m.Put(camera.Frame{Number: 5})
	m.Close()

	f, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, 5, f.Number)

	_, ok = m.Take()
	assert.False(t, ok)

	// Frames after close are dropped.
	m.Put(camera.Frame{Number: 6})
	_, ok = m.Take()
	assert.False(t, ok)
}

func TestMailboxCloseWakesBlockedTake(t *testing.T) {
	m := NewMailbox()

	done := make(chan bool, 1)
	go func() {
		_, ok := m.Take()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	m.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("take did not wake on close")
	}
}
