package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Seed("cvd_divergence", 0.15)
	r.Seed("cvd_divergence", 0.99)

	p, ok := r.Get("cvd_divergence")
	require.True(t, ok)
	assert.Equal(t, 0.15, p.BaseWeight)
	assert.Equal(t, 0.15, p.CurrentWeight)
	assert.Equal(t, MinConfidenceFloor, p.MinConfidence)
}

func TestUnknownPatternDefaults(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 1.0, r.Multiplier("never_seen"))
	assert.Equal(t, MinConfidenceFloor, r.MinConfidence("never_seen"))

	_, ok := r.Get("never_seen")
	assert.False(t, ok)
}

func TestSetDefaultMinConfidence(t *testing.T) {
	r := NewRegistry()
	r.SetDefaultMinConfidence(0.75)

	assert.InDelta(t, 0.75, r.MinConfidence("never_seen"), 1e-9)

	r.Seed("cvd_divergence", 0.15)
	p, ok := r.Get("cvd_divergence")
	require.True(t, ok)
	assert.InDelta(t, 0.75, p.MinConfidence, 1e-9)

	// Out-of-range values clamp to the registry bounds.
	r.SetDefaultMinConfidence(0.2)
	assert.Equal(t, MinConfidenceFloor, r.MinConfidence("other"))
	r.SetDefaultMinConfidence(0.99)
	assert.Equal(t, MinConfidenceCeiling, r.MinConfidence("other"))
}

func TestMultiplierTracksAdjustments(t *testing.T) {
	r := NewRegistry()
	r.Seed("oi_buildup", 0.20)

	r.adjust("oi_buildup", -0.05, 0.05, -0.5, 4, time.Now())

	assert.InDelta(t, 0.15/0.20, r.Multiplier("oi_buildup"), 1e-9)
	assert.InDelta(t, 0.65, r.MinConfidence("oi_buildup"), 1e-9)
}

func TestAdjustClampsWeight(t *testing.T) {
	r := NewRegistry()
	r.Seed("p", 1.0)

	for i := 0; i < 20; i++ {
		r.adjust("p", -0.2, 0, -1, 3, time.Now())
	}
	p, _ := r.Get("p")
	assert.Equal(t, WeightFloor, p.CurrentWeight)

	for i := 0; i < 20; i++ {
		r.adjust("p", 0.2, 0, 1, 3, time.Now())
	}
	p, _ = r.Get("p")
	assert.Equal(t, WeightCeiling, p.CurrentWeight)
}

func TestAdjustClampsConfidence(t *testing.T) {
	r := NewRegistry()
	r.Seed("p", 1.0)

	for i := 0; i < 20; i++ {
		r.adjust("p", 0, 0.05, -1, 3, time.Now())
	}
	p, _ := r.Get("p")
	assert.Equal(t, MinConfidenceCeiling, p.MinConfidence)

	for i := 0; i < 20; i++ {
		r.adjust("p", 0, -0.05, 1, 3, time.Now())
	}
	p, _ = r.Get("p")
	assert.Equal(t, MinConfidenceFloor, p.MinConfidence)
}

func TestAdjustUnknownPatternStartsNeutral(t *testing.T) {
	r := NewRegistry()
	p := r.adjust("fresh", -0.1, 0, -0.5, 3, time.Now())

	assert.Equal(t, 1.0, p.BaseWeight)
	assert.InDelta(t, 0.9, p.CurrentWeight, 1e-9)
}

func TestHistoryRingBounded(t *testing.T) {
	r := NewRegistry()
	r.Seed("p", 1.0)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		r.adjust("p", 0.01, 0, 0.5, 5, base.Add(time.Duration(i)*time.Hour))
	}

	p, _ := r.Get("p")
	require.Len(t, p.History, adjustmentHistorySize)
	// The two oldest entries were evicted.
	assert.Equal(t, base.Add(2*time.Hour), p.History[0].AppliedAt)
	assert.Equal(t, base.Add(11*time.Hour), p.History[len(p.History)-1].AppliedAt)
}

func TestRestoreClampsPersistedState(t *testing.T) {
	r := NewRegistry()

	history := make([]Adjustment, 14)
	r.Restore(PatternWeight{
		Name:          "p",
		BaseWeight:    1.0,
		CurrentWeight: 5.0,
		MinConfidence: 0.1,
		History:       history,
	})

	p, ok := r.Get("p")
	require.True(t, ok)
	assert.Equal(t, WeightCeiling, p.CurrentWeight)
	assert.Equal(t, MinConfidenceFloor, p.MinConfidence)
	assert.Len(t, p.History, adjustmentHistorySize)
}

func TestGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Seed("p", 1.0)
	r.adjust("p", -0.05, 0, -0.5, 3, time.Now())

	p, _ := r.Get("p")
	p.CurrentWeight = 99
	p.History[0].Delta = 99

	fresh, _ := r.Get("p")
	assert.InDelta(t, 0.95, fresh.CurrentWeight, 1e-9)
	assert.InDelta(t, -0.05, fresh.History[0].Delta, 1e-9)
}
