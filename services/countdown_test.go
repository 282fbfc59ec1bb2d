package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tickRecorder struct {
	mu      sync.Mutex
	ticks   []int
	expired int
	done    chan struct{}
}

func newTickRecorder() *tickRecorder {
	return &tickRecorder{done: make(chan struct{}, 4)}
}

func (r *tickRecorder) onTick(remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, remaining)
}

func (r *tickRecorder) onExpire() {
	r.mu.Lock()
	r.expired++
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *tickRecorder) snapshot() ([]int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ticks...), r.expired
}

func TestCountdownTicksToZeroAndExpiresOnce(t *testing.T) {
	rec := newTickRecorder()
	cd := NewCountdown(5 * time.Millisecond)

	cd.Start(3, rec.onTick, rec.onExpire)

	select {
	case <-rec.done:
	case <-time.After(time.Second):
		t.Fatal("countdown never expired")
	}
	time.Sleep(30 * time.Millisecond)

	ticks, expired := rec.snapshot()
	assert.Equal(t, []int{2, 1, 0}, ticks)
	assert.Equal(t, 1, expired)
	assert.False(t, cd.Running())
}

func TestCountdownStopPreventsExpiry(t *testing.T) {
	rec := newTickRecorder()
	cd := NewCountdown(10 * time.Millisecond)

	cd.Start(100, rec.onTick, rec.onExpire)
	require.True(t, cd.Running())
	time.Sleep(25 * time.Millisecond)
	cd.Stop()
	cd.Stop()
	time.Sleep(5 * time.Millisecond)

	ticks, _ := rec.snapshot()
	time.Sleep(50 * time.Millisecond)
	after, expired := rec.snapshot()

	assert.Equal(t, len(ticks), len(after), "ticks continued after Stop")
	assert.Zero(t, expired)
	assert.False(t, cd.Running())
}

func TestCountdownZeroBudgetExpiresImmediately(t *testing.T) {
	rec := newTickRecorder()
	NewCountdown(time.Hour).Start(0, rec.onTick, rec.onExpire)

	select {
	case <-rec.done:
	case <-time.After(time.Second):
		t.Fatal("countdown never expired")
	}
	ticks, expired := rec.snapshot()
	assert.Empty(t, ticks)
	assert.Equal(t, 1, expired)
}

func TestCountdownRestartReplacesRun(t *testing.T) {
	first := newTickRecorder()
	second := newTickRecorder()
	cd := NewCountdown(5 * time.Millisecond)

	cd.Start(1000, first.onTick, first.onExpire)
	cd.Start(2, second.onTick, second.onExpire)

	select {
	case <-second.done:
	case <-time.After(time.Second):
		t.Fatal("second run never expired")
	}
	_, expired := first.snapshot()
	assert.Zero(t, expired)
}
