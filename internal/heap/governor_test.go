package heap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/snuffle/internal/config"
)

// fakeProbe is a settable allocator probe.
type fakeProbe struct {
	free    int
	largest int
}

func (p *fakeProbe) FreeBytes() int        { return p.free }
func (p *fakeProbe) LargestFreeBlock() int { return p.largest }

// testClock advances manually.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time            { return c.t }
func (c *testClock) advance(d time.Duration)   { c.t = c.t.Add(d) }

func newTestGovernor(probe *fakeProbe) (*Governor, *testClock) {
	g := NewGovernor(probe, config.DefaultPolicy())
	clk := newTestClock()
	g.SetClock(clk.now)
	return g, clk
}

func TestRawPressure_WorstOfSignals(t *testing.T) {
	probe := &fakeProbe{}
	g, _ := newTestGovernor(probe)

	tests := []struct {
		name    string
		free    int
		largest int
		want    PressureLevel
	}{
		{"healthy", 120000, 100000, PressureNormal},
		{"free below L1", 70000, 60000, PressureCaution},
		{"frag below L2 dominates healthy free", 100000, 30000, PressureWarning},
		{"free below L2", 45000, 40000, PressureWarning},
		{"frag below L3", 100000, 20000, PressureCritical},
		{"free below L3", 25000, 24000, PressureCritical},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := Snapshot{Free: tc.free, Largest: tc.largest}
			assert.Equal(t, tc.want, g.rawPressure(s))
		})
	}
}

func TestUpdate_PressureHysteresis(t *testing.T) {
	probe := &fakeProbe{free: 120000, largest: 100000}
	g, clk := newTestGovernor(probe)

	g.Update()
	assert.Equal(t, PressureNormal, g.Pressure())

	// Worsening is immediate
	probe.free = 45000
	probe.largest = 40000
	clk.advance(time.Second)
	g.Update()
	assert.Equal(t, PressureWarning, g.Pressure())

	// Recovery does not apply before the hysteresis dwell
	probe.free = 120000
	probe.largest = 100000
	clk.advance(time.Second)
	g.Update()
	assert.Equal(t, PressureWarning, g.Pressure())

	clk.advance(time.Second)
	g.Update()
	assert.Equal(t, PressureWarning, g.Pressure())

	// After the dwell the better level is adopted
	clk.advance(2 * time.Second)
	g.Update()
	assert.Equal(t, PressureNormal, g.Pressure())
}

func TestUpdate_RelapseDuringRecoveryResetsDwell(t *testing.T) {
	probe := &fakeProbe{free: 120000, largest: 100000}
	g, clk := newTestGovernor(probe)
	g.Update()

	probe.free = 45000
	clk.advance(time.Second)
	g.Update()
	require.Equal(t, PressureWarning, g.Pressure())

	// Start recovering...
	probe.free = 120000
	clk.advance(time.Second)
	g.Update()

	// ...relapse before the dwell completes
	probe.free = 45000
	clk.advance(time.Second)
	g.Update()

	// Recover again: the dwell must restart from here
	probe.free = 120000
	clk.advance(time.Second)
	g.Update()
	clk.advance(time.Second)
	g.Update()
	assert.Equal(t, PressureWarning, g.Pressure())

	clk.advance(2 * time.Second)
	g.Update()
	assert.Equal(t, PressureNormal, g.Pressure())
}

func TestUpdate_RateLimited(t *testing.T) {
	probe := &fakeProbe{free: 120000, largest: 100000}
	g, clk := newTestGovernor(probe)
	g.Update()

	// A sample within the interval must not move the pressure
	probe.free = 20000
	probe.largest = 10000
	clk.advance(100 * time.Millisecond)
	g.Update()
	assert.Equal(t, PressureNormal, g.Pressure())

	clk.advance(time.Second)
	g.Update()
	assert.Equal(t, PressureCritical, g.Pressure())
}

func TestGateTLS(t *testing.T) {
	probe := &fakeProbe{free: 100000, largest: 80000}
	g, _ := newTestGovernor(probe)

	assert.NoError(t, g.GateTLS())

	probe.largest = 20000
	err := g.GateTLS()
	require.Error(t, err)
	gateErr, ok := err.(*TLSGateError)
	require.True(t, ok)
	assert.Equal(t, GateFragmented, gateErr.Failure)
	assert.Contains(t, gateErr.Error(), "FRAGMENTED")

	// Fragmentation is checked before free heap
	probe.free = 30000
	probe.largest = 20000
	err = g.GateTLS()
	require.Error(t, err)
	assert.Equal(t, GateFragmented, err.(*TLSGateError).Failure)

	probe.free = 30000
	probe.largest = 40000
	err = g.GateTLS()
	require.Error(t, err)
	assert.Equal(t, GateLowHeap, err.(*TLSGateError).Failure)
	assert.Contains(t, err.Error(), "LOW HEAP")
}

func TestCanGrow(t *testing.T) {
	probe := &fakeProbe{free: 100000, largest: 80000}
	g, _ := newTestGovernor(probe)

	assert.True(t, g.CanGrow(60000, 0.40))
	assert.False(t, g.CanGrow(120000, 0.40), "free floor not met")

	probe.largest = 20000 // frag 0.2
	assert.False(t, g.CanGrow(60000, 0.40), "fragmentation floor not met")
}

func TestConditionRequestLatch(t *testing.T) {
	probe := &fakeProbe{free: 200000, largest: 180000}
	g, clk := newTestGovernor(probe)
	g.Update()
	assert.False(t, g.ConsumeConditionRequest())

	// Health collapses and the largest block falls below the proactive gate
	probe.free = 100000
	probe.largest = 20000
	clk.advance(time.Second)
	g.Update()

	assert.True(t, g.ConsumeConditionRequest())
	assert.False(t, g.ConsumeConditionRequest(), "latch is one-shot")
}

func TestResetPeaksClearsLatchAndWatermarks(t *testing.T) {
	probe := &fakeProbe{free: 200000, largest: 180000}
	g, clk := newTestGovernor(probe)
	g.Update()

	probe.free = 100000
	probe.largest = 20000
	clk.advance(time.Second)
	g.Update()
	minFree, minLargest := g.Watermarks()
	assert.Equal(t, uint32(100000), minFree)
	assert.Equal(t, uint32(20000), minLargest)

	probe.free = 150000
	probe.largest = 140000
	g.ResetPeaks()
	assert.False(t, g.ConsumeConditionRequest())
	minFree, minLargest = g.Watermarks()
	assert.Equal(t, uint32(150000), minFree)
	assert.Equal(t, uint32(140000), minLargest)
}

func TestSnapshotFragRatio(t *testing.T) {
	s := Snapshot{Free: 100000, Largest: 25000}
	assert.InDelta(t, 0.25, s.FragRatio(), 0.0001)

	s = Snapshot{Free: 0, Largest: 0}
	assert.Equal(t, 0.0, s.FragRatio())
}
