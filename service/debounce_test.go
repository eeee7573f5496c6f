package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalescesBursts(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { fired.Add(1) })
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Trigger()
	}

	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestDebouncerTriggerResetsWindow(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(40*time.Millisecond, func() { fired.Add(1) })
	defer d.Stop()

	d.Trigger()
	time.Sleep(20 * time.Millisecond)
	d.Trigger()
	time.Sleep(30 * time.Millisecond)
	// First window would have fired by now if Trigger did not reset it
	assert.Equal(t, int32(0), fired.Load())

	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDebouncerFlushRunsPendingImmediately(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(time.Hour, func() { fired.Add(1) })
	defer d.Stop()

	d.Flush()
	assert.Equal(t, int32(0), fired.Load(), "flush with nothing pending is a no-op")

	d.Trigger()
	d.Flush()
	assert.Equal(t, int32(1), fired.Load())
}

func TestDebouncerStopPreventsFiring(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(10*time.Millisecond, func() { fired.Add(1) })

	d.Trigger()
	d.Stop()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	d.Trigger()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestNotifierFanOutAndUnsubscribe(t *testing.T) {
	n := NewNotifier(2)

	var got []string
	unsub := n.Subscribe(func(note Notification) { got = append(got, note.Message) })

	n.Notify(LevelInfo, "one")
	n.Notify(LevelError, "two")
	unsub()
	n.Notify(LevelError, "three")

	assert.Equal(t, []string{"one", "two"}, got)

	// Retention keeps only the most recent entries
	recent := n.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Message)
	assert.Equal(t, "three", recent[1].Message)
}
