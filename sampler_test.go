package langsmith

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func rateOf(v float64) *float64 { return &v }

// TestSamplerNilRateKeepsEverything verifies the default path records
// nothing and keeps every trace.
func TestSamplerNilRateKeepsEverything(t *testing.T) {
	s := newSampler(nil)

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("trace-%d", i)
		assert.True(t, s.sampleRoot(id))
		assert.False(t, s.isDropped(id))
	}
	assert.Equal(t, 0, s.droppedCount())
}

// TestSamplerRateOneKeepsEverything verifies a rate of 1.0 never drops.
func TestSamplerRateOneKeepsEverything(t *testing.T) {
	s := newSampler(rateOf(1.0))

	for i := 0; i < 100; i++ {
		assert.True(t, s.sampleRoot(fmt.Sprintf("trace-%d", i)))
	}
	assert.Equal(t, 0, s.droppedCount())
}

// TestSamplerRateZeroDropsEverything verifies a rate of 0 drops every
// trace and records the decision.
func TestSamplerRateZeroDropsEverything(t *testing.T) {
	s := newSampler(rateOf(0))

	assert.False(t, s.sampleRoot("trace-a"))
	assert.False(t, s.sampleRoot("trace-b"))
	assert.Equal(t, 2, s.droppedCount())

	// Children and patches consult the recorded decision.
	assert.True(t, s.isDropped("trace-a"))
	assert.True(t, s.isDropped("trace-b"))
	assert.False(t, s.isDropped("trace-never-seen"))
}

// TestSamplerDecisionIsPerTrace verifies the same trace is not recorded
// twice and repeated lookups are stable.
func TestSamplerDecisionIsPerTrace(t *testing.T) {
	s := newSampler(rateOf(0))

	assert.False(t, s.sampleRoot("trace-a"))
	assert.False(t, s.sampleRoot("trace-a"))
	assert.Equal(t, 1, s.droppedCount())
	assert.True(t, s.isDropped("trace-a"))
}

// TestSamplerMarkDropped verifies runs recorded via markDropped are
// reported dropped by their own ID, and that without a sampling rate
// nothing is recorded.
func TestSamplerMarkDropped(t *testing.T) {
	s := newSampler(rateOf(0))
	s.sampleRoot("trace-a")
	s.markDropped("child-1")
	assert.True(t, s.isDropped("child-1"))
	assert.Equal(t, 2, s.droppedCount())

	unsampled := newSampler(nil)
	unsampled.markDropped("child-1")
	assert.False(t, unsampled.isDropped("child-1"))
}

// TestSamplerEvictsOldestRecords verifies the dropped set is bounded and
// evicts in arrival order.
func TestSamplerEvictsOldestRecords(t *testing.T) {
	s := newSampler(rateOf(0))

	for i := 0; i < maxDroppedTraceRecords+5; i++ {
		s.sampleRoot(fmt.Sprintf("trace-%d", i))
	}
	assert.Equal(t, maxDroppedTraceRecords, s.droppedCount())

	// The five oldest were evicted; late children of those traces ship.
	for i := 0; i < 5; i++ {
		assert.False(t, s.isDropped(fmt.Sprintf("trace-%d", i)))
	}
	assert.True(t, s.isDropped("trace-5"))
	assert.True(t, s.isDropped(fmt.Sprintf("trace-%d", maxDroppedTraceRecords+4)))
}
