package periscope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendSquare appends halfPeriods runs of `every` samples each,
// toggling the level between runs. Edge spacing is every*scale.
func appendSquare(samples []bool, halfPeriods, every int) []bool {
	var level = false
	if len(samples) > 0 {
		level = samples[len(samples)-1]
	}
	for i := 0; i < halfPeriods; i++ {
		level = !level
		for j := 0; j < every; j++ {
			samples = append(samples, level)
		}
	}
	return samples
}

// appendFlat extends the last level without producing an edge.
func appendFlat(samples []bool, n int) []bool {
	var level = false
	if len(samples) > 0 {
		level = samples[len(samples)-1]
	}
	for i := 0; i < n; i++ {
		samples = append(samples, level)
	}
	return samples
}

// meanDelta returns the average spacing of a run of output offsets.
func meanDelta(offsets []int64, from, to int) float64 {
	var sum int64
	for i := from + 1; i < to; i++ {
		sum += offsets[i] - offsets[i-1]
	}
	return float64(sum) / float64(to-from-1)
}

func requireWellFormed(t *testing.T, out *SparseDigitalWaveform) {
	t.Helper()
	require.NotNil(t, out)
	require.Equal(t, int64(1), out.Timescale())
	require.Len(t, out.Samples, len(out.Offsets))
	require.Len(t, out.Durations, len(out.Offsets))

	for i := 1; i < len(out.Offsets); i++ {
		require.Greater(t, out.Offsets[i], out.Offsets[i-1],
			"output offsets must be strictly increasing (index %d)", i)
	}
	for i := 0; i+1 < len(out.Offsets); i++ {
		require.Equal(t, out.Offsets[i+1]-out.Offsets[i], out.Durations[i])
	}
	if n := len(out.Offsets); n >= 2 {
		require.Equal(t, out.Durations[n-2], out.Durations[n-1])
	}
	for i := range out.Samples {
		require.Equal(t, i%2 == 0, out.Samples[i], "samples must alternate starting true")
	}
}

func TestRecoverLockedToNominalRate(t *testing.T) {
	// 1.25 Gbps signal sampled at 10 ps: one edge every 80 samples
	var din = &UniformDigitalWaveform{Scale: 10000}
	din.Samples = appendSquare(nil, 2000, 80)

	var f = NewClockRecoveryFilter()
	var out = f.Recover(din, nil)

	requireWellFormed(t, out)
	require.Greater(t, len(out.Offsets), 1000)

	var n = len(out.Offsets)
	assert.InDelta(t, 800000, meanDelta(out.Offsets, n-200, n), 800000*0.005)
}

func TestRecoverConvergesToOffsetRate(t *testing.T) {
	// Real rate 2.5% off the 1.25 Gbps reference
	var din = &UniformDigitalWaveform{Scale: 10000}
	din.Samples = appendSquare(nil, 2000, 82)

	var f = NewClockRecoveryFilter()
	var out = f.Recover(din, nil)

	requireWellFormed(t, out)
	require.Greater(t, len(out.Offsets), 1000)

	var n = len(out.Offsets)
	assert.InDelta(t, 820000, meanDelta(out.Offsets, n-200, n), 820000*0.01)
}

func TestRecoverFrequencyStep(t *testing.T) {
	// Rate steps up 1.5x halfway through the capture
	var din = &UniformDigitalWaveform{Scale: 1000}
	din.Samples = appendSquare(nil, 600, 800)          // 800000 fs spacing
	din.Samples = appendSquare(din.Samples, 2500, 533) // 533000 fs spacing

	var f = NewClockRecoveryFilter()
	var out = f.Recover(din, nil)

	requireWellFormed(t, out)
	require.Greater(t, len(out.Offsets), 2000)

	// Tracks the first rate early on
	assert.InDelta(t, 800000, meanDelta(out.Offsets, 10, 110), 800000*0.01)

	// Converges to the second rate by the end
	var n = len(out.Offsets)
	assert.InDelta(t, 533000, meanDelta(out.Offsets, n-200, n), 533000*0.02)
}

func TestRecoverIgnoresGlitches(t *testing.T) {
	var din = &UniformDigitalWaveform{Scale: 10000}
	din.Samples = appendSquare(nil, 1000, 80)

	// A one-sample runt pulse mid-capture: its 10 ps spacing is far
	// below the glitch cutoff and must not disturb the lock
	var mid = len(din.Samples) / 2
	din.Samples[mid] = !din.Samples[mid]

	var f = NewClockRecoveryFilter()
	var out = f.Recover(din, nil)

	requireWellFormed(t, out)
	var n = len(out.Offsets)
	assert.InDelta(t, 800000, meanDelta(out.Offsets, n-100, n), 800000*0.01)
}

func TestRecoverConstantInputHasNoClock(t *testing.T) {
	var din = &UniformAnalogWaveform{Scale: 10000, Samples: make([]float32, 5000)}

	var f = NewClockRecoveryFilter()
	assert.Nil(t, f.Recover(din, nil))
}

func TestRecoverEmptyAndNilInput(t *testing.T) {
	var f = NewClockRecoveryFilter()
	assert.Nil(t, f.Recover(nil, nil))
	assert.Nil(t, f.Recover(&UniformDigitalWaveform{Scale: 1000}, nil))
}

func TestRecoverSingleEdgeProducesEmptyOutput(t *testing.T) {
	var din = &UniformDigitalWaveform{Scale: 10000}
	din.Samples = appendFlat(din.Samples, 100)
	din.Samples = appendSquare(din.Samples, 1, 100)

	var f = NewClockRecoveryFilter()
	var out = f.Recover(din, nil)
	require.NotNil(t, out)
	assert.Zero(t, out.Len())
}

func TestRecoverRefusesNominalRateAboveNyquist(t *testing.T) {
	// 1 GHz symbol rate needs a period of 1e6 fs, but the input is
	// sampled every 1e6 fs: configuration error, empty output
	var din = &UniformDigitalWaveform{Scale: 1000000}
	din.Samples = appendSquare(nil, 100, 10)

	var f = &ClockRecoveryFilter{SymbolRate: 1e9}
	assert.Nil(t, f.Recover(din, nil))
}

func TestRecoverAbortsNearNyquist(t *testing.T) {
	// Input toggling every sample: the real period equals the sample
	// spacing, half the Nyquist floor. The loop pulls the period
	// down, trips the floor and stops with partial output.
	var din = &UniformDigitalWaveform{Scale: 100000}
	din.Samples = appendSquare(nil, 1000, 1)

	var f = &ClockRecoveryFilter{SymbolRate: 5e9} // nominal period exactly 2x timescale
	var out = f.Recover(din, nil)

	requireWellFormed(t, out)
	require.NotZero(t, out.Len(), "partial output expected, not none")

	var tend = din.OffsetScaled(din.Len() - 1)
	assert.Less(t, out.Offsets[len(out.Offsets)-1], tend/2,
		"loop should have aborted well before the end of the capture")
}

func TestRecoverAnalogInputUsesThreshold(t *testing.T) {
	// Same clock expressed as a 2.5 V swing around 1.25 V
	var din = &UniformAnalogWaveform{Scale: 10000}
	var levels = appendSquare(nil, 1000, 80)
	for _, level := range levels {
		if level {
			din.Samples = append(din.Samples, 2.5)
		} else {
			din.Samples = append(din.Samples, 0)
		}
	}

	var f = NewClockRecoveryFilter()
	f.Threshold = 1.25
	var out = f.Recover(din, nil)

	requireWellFormed(t, out)
	var n = len(out.Offsets)
	require.Greater(t, n, 500)
	assert.InDelta(t, 800000, meanDelta(out.Offsets, n-100, n), 800000*0.01)
}

func TestRecoverGatingSuppressesOutputAndReacquires(t *testing.T) {
	// 1.25 Gbps data, then a squelched gap with no transitions, then
	// data again at a different rate (640 ps UI)
	var din = &UniformDigitalWaveform{Scale: 10000}
	din.Samples = appendSquare(nil, 125, 80)         // 0 .. 1e8
	din.Samples = appendFlat(din.Samples, 10000)     // 1e8 .. 2e8
	din.Samples = appendSquare(din.Samples, 400, 64) // 2e8 onward

	// Gate low across the silent interval
	var gate = &UniformDigitalWaveform{Scale: 1000000}
	for i := 0; i < 460; i++ {
		gate.Samples = append(gate.Samples, i < 100 || i >= 200)
	}

	var f = NewClockRecoveryFilter()
	var out = f.Recover(din, gate)

	requireWellFormed(t, out)
	require.NotZero(t, out.Len())

	// No recovered edges inside the squelched interval
	var before, after int
	for _, off := range out.Offsets {
		switch {
		case off < 105000000:
			before++
		case off >= 200000000:
			after++
		default:
			t.Fatalf("output offset %d falls inside the gated interval", off)
		}
	}
	require.NotZero(t, before, "expected output before the gate closes")
	require.NotZero(t, after, "expected output after the gate reopens")

	// Reacquisition locked to the post-gate rate, not the stale one
	var n = len(out.Offsets)
	assert.InDelta(t, 640000, meanDelta(out.Offsets, n-100, n), 640000*0.01)
}

func TestRecoverGateStartingLowHoldsOutput(t *testing.T) {
	var din = &UniformDigitalWaveform{Scale: 10000}
	din.Samples = appendSquare(nil, 1000, 80)

	// Gate low for the first quarter of the capture
	var gate = &UniformDigitalWaveform{Scale: 1000000}
	for i := 0; i < 800; i++ {
		gate.Samples = append(gate.Samples, i >= 200)
	}

	var f = NewClockRecoveryFilter()
	var out = f.Recover(din, gate)

	requireWellFormed(t, out)
	require.NotZero(t, out.Len())
	assert.GreaterOrEqual(t, out.Offsets[0], int64(200000000),
		"no output may appear while the gate starts low")
}

func alwaysActiveGate(span int64) *UniformDigitalWaveform {
	var gate = &UniformDigitalWaveform{Scale: 1000000}
	for i := int64(0); i*gate.Scale <= span; i++ {
		gate.Samples = append(gate.Samples, true)
	}
	return gate
}

func TestRecoverDenseEdgesHoldNominalPeriod(t *testing.T) {
	// Edges every 0.3 UI: too long for the glitch cutoff, too short
	// to round to a whole unit interval, so they carry no frequency
	// information. Both loop variants must keep the period near the
	// nominal 800000 fs instead of collapsing onto the edge spacing.
	var din = &UniformDigitalWaveform{Scale: 10000}
	din.Samples = appendSquare(nil, 4000, 24) // 240000 fs spacing

	var f = NewClockRecoveryFilter()
	var ungated = f.Recover(din, nil)
	var gated = f.Recover(din, alwaysActiveGate(din.OffsetScaled(din.Len()-1)))

	for _, out := range []*SparseDigitalWaveform{ungated, gated} {
		requireWellFormed(t, out)
		var n = len(out.Offsets)
		require.Greater(t, n, 500)

		var tail = meanDelta(out.Offsets, n-200, n)
		assert.Greater(t, tail, 600000.0,
			"period must not collapse onto the 240000 fs edge spacing")
		assert.Less(t, tail, 1000000.0)
	}
}

func TestRecoverHalfIntervalSpacingLocksBothPaths(t *testing.T) {
	// Edges every 0.6 UI round to one unit interval, so 480000 fs is
	// taken as the real period and both loop variants converge there
	var din = &UniformDigitalWaveform{Scale: 10000}
	din.Samples = appendSquare(nil, 3000, 48) // 480000 fs spacing

	var f = NewClockRecoveryFilter()
	var ungated = f.Recover(din, nil)
	var gated = f.Recover(din, alwaysActiveGate(din.OffsetScaled(din.Len()-1)))

	var tails []float64
	for _, out := range []*SparseDigitalWaveform{ungated, gated} {
		requireWellFormed(t, out)
		var n = len(out.Offsets)
		require.Greater(t, n, 1000)
		tails = append(tails, meanDelta(out.Offsets, n-200, n))
	}

	assert.InDelta(t, 480000, tails[0], 480000*0.01)
	assert.InDelta(t, 480000, tails[1], 480000*0.01)
	assert.InDelta(t, tails[0], tails[1], 480000*0.01,
		"gated and ungated loops must agree within float tolerance")
}

func TestRecoverObserverSeesCorrections(t *testing.T) {
	var din = &UniformDigitalWaveform{Scale: 10000}
	din.Samples = appendSquare(nil, 500, 82)

	var calls int
	var f = NewClockRecoveryFilter()
	f.Observer = func(ts int64, period, dphase, dperiod, drift float64) {
		calls++
		assert.Positive(t, period)
	}
	var withObserver = f.Recover(din, nil)

	f.Observer = nil
	var without = f.Recover(din, nil)

	assert.Greater(t, calls, 100)
	assert.Equal(t, without.Offsets, withObserver.Offsets,
		"the observer must not influence the output")
}
