package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedTimerFiresAtInterval(t *testing.T) {
	timer := NewFixedTimer(20 * time.Millisecond)
	start := time.Now()
	<-timer.Continuation()
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestRangeTimerSamplesWithinBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		timer := NewRangeTimer(100*time.Millisecond, 200*time.Millisecond)
		iv := timer.Interval()
		assert.GreaterOrEqual(t, iv, 100*time.Millisecond)
		assert.Less(t, iv, 200*time.Millisecond)
	}
}

func TestRangeTimerResetResamples(t *testing.T) {
	timer := NewRangeTimer(10*time.Millisecond, 300*time.Millisecond)
	seen := map[time.Duration]bool{timer.Interval(): true}
	for i := 0; i < 30; i++ {
		timer.Reset()
		seen[timer.Interval()] = true
	}
	assert.Greater(t, len(seen), 1, "Reset should eventually draw a different sample than the first")
}

func TestRangeTimerDegenerateRangeFallsBackToMin(t *testing.T) {
	timer := NewRangeTimer(50*time.Millisecond, 50*time.Millisecond)
	assert.GreaterOrEqual(t, timer.Interval(), 50*time.Millisecond)
}
