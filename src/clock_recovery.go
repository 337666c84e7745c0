package periscope

/*------------------------------------------------------------------
 *
 * Purpose:   	Recover a clock from a sampled data signal.
 *
 * Description:	A software PLL. A numerically controlled oscillator
 *		advances one period at a time through the input, and
 *		each real transition found near the oscillator's
 *		predicted position contributes a proportional phase
 *		and frequency correction plus a coarse bang-bang
 *		phase nudge.  Synthesized clock edges are emitted at
 *		a 90 degree offset from the oscillator reference,
 *		i.e. centered in the unit interval.
 *
 *		An optional gate signal squelches the output: while
 *		gated, no edges are emitted and no corrections are
 *		applied.  When the gate reopens, a long squelch has
 *		invalidated the frequency lock, so the loop reacquires
 *		from the statistics of the next several edge spacings
 *		instead of resuming the stale estimate.
 *
 *		The loop holds no state between calls: every run
 *		starts over from the nominal period and the first
 *		detected edge.  Real hardware PLLs retain lock across
 *		acquisitions; this simplification is intentional and
 *		load-bearing for reproducibility, so don't "fix" it.
 *
 *---------------------------------------------------------------*/

import (
	"math"
	"sort"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/stat"
)

// Loop constants. The gain pair is stable for reference frequencies
// within roughly +/-50% of the actual symbol rate.
const (
	pllFreqGain  = 0.006 // proportional frequency correction
	pllPhaseGain = 0.002 // proportional phase correction

	// Edge spacings shorter than initialPeriod/10 are glitches and
	// contribute no frequency correction.
	pllGlitchDivisor = 10

	// Number of edge-to-edge spacings sampled when reacquiring
	// after a squelched interval.
	pllReacquireWindow = 512
)

// RecoveryObserver receives per-correction diagnostics from the loop:
// the output timestamp, the updated period, the phase and frequency
// errors, and the drift from the nominal period, all in femtoseconds.
// Purely optional instrumentation; a nil observer changes nothing.
type RecoveryObserver func(t int64, period, dphase, dperiod, drift float64)

// ClockRecoveryFilter reconstructs a clock edge train from a sampled
// analog or digital data signal.
type ClockRecoveryFilter struct {
	// SymbolRate is the nominal symbol rate in Hz, used for the
	// first cycle of the NCO.
	SymbolRate float64

	// Threshold is the crossing threshold in volts for analog
	// inputs. Ignored for digital inputs.
	Threshold float32

	// Observer, when non-nil, is called once per applied correction.
	Observer RecoveryObserver
}

// NewClockRecoveryFilter returns a filter with the default 1.25 Gbps
// symbol rate and a zero volt threshold.
func NewClockRecoveryFilter() *ClockRecoveryFilter {
	return &ClockRecoveryFilter{SymbolRate: 1250000000}
}

/*-------------------------------------------------------------------
 *
 * Name:        Recover
 *
 * Purpose:     Run one full acquisition over the input.
 *
 * Inputs:	din	- Data signal, analog or digital, either shape.
 *
 *		gate	- Optional squelch signal. nil is legal and
 *			  means the clock always runs.
 *
 * Returns:	The recovered clock as a sparse digital waveform at
 *		1 fs timescale, with strictly increasing offsets and
 *		samples alternating starting true.  Returns nil when
 *		no clock is recoverable: no input, no crossings, or a
 *		nominal period already below the input's Nyquist
 *		limit.  A Nyquist violation reached mid-run stops the
 *		loop and returns the edges synthesized so far.
 *
 *--------------------------------------------------------------------*/

func (f *ClockRecoveryFilter) Recover(din Waveform, gate DigitalWaveform) *SparseDigitalWaveform {
	if din == nil || din.Len() == 0 || f.SymbolRate <= 0 {
		return nil
	}

	// Timestamps of the edges
	var edges = findEdgesAny(din, f.Threshold)
	if len(edges) == 0 {
		return nil
	}

	// Get nominal period used for the first cycle of the NCO
	var initialPeriod = int64(math.Round(FS_PER_SECOND / f.SymbolRate))
	var halfPeriod = initialPeriod / 2

	// Disallow frequencies higher than Nyquist of the input
	var fnyquist = 2 * din.Timescale()
	if initialPeriod < fnyquist {
		return nil
	}

	// Recovered clock time scale is single femtoseconds
	var out = &SparseDigitalWaveform{Scale: 1}
	out.Offsets = make([]int64, 0, len(edges))

	var tend = din.OffsetScaled(din.Len() - 1)

	if gate != nil {
		f.innerLoopWithGating(out, edges, tend, initialPeriod, halfPeriod, fnyquist, gate)
	} else {
		f.innerLoopWithNoGating(out, edges, tend, initialPeriod, halfPeriod, fnyquist)
	}

	// Generate the squarewave and duration values to match the
	// calculated timestamps. fillDurations must come second since it
	// expects the final sample count.
	fillSquarewave(out)
	fillDurations(out)

	return out
}

/*-------------------------------------------------------------------
 *
 * Name:        innerLoopWithGating
 *
 * Purpose:     PLL inner loop supporting an external gate/squelch
 *		signal.
 *
 * Description:	Tracks the gate state with a forward-only cursor as
 *		the NCO advances.  While gated, output is suppressed
 *		and no corrections are applied, but the NCO keeps
 *		running against real time.  On a gated to active
 *		transition the period is re-derived from the next
 *		several edge spacings and the NCO snaps to the next
 *		real edge plus one period; there is no valid history
 *		to converge from gradually.
 *
 *		Keeps the period as int64 with float corrections.
 *		The ungated fast path below tracks a float period
 *		instead; the two agree within float tolerance but not
 *		bit-exactly.
 *
 *--------------------------------------------------------------------*/

func (f *ClockRecoveryFilter) innerLoopWithGating(
	out *SparseDigitalWaveform,
	edges []int64,
	tend int64,
	initialPeriod int64,
	halfPeriod int64,
	fnyquist int64,
	gate DigitalWaveform,
) {
	var g = newGateCursor(gate)
	var nedge = 1
	var edgepos = edges[0]
	var period = initialPeriod

	var tlast = int64(0)
	for ; edgepos < tend && nedge < len(edges)-1; edgepos += period {
		var center = period / 2

		// See if the current edge position is within a gating region.
		// If the clock just got ungated, reset the PLL.
		if g.advance(edgepos) {
			period = f.reacquirePeriod(edges, nedge, edgepos, period)
			initialPeriod = period
			halfPeriod = initialPeriod / 2

			// Align exactly to the next edge
			edgepos = edges[nedge] + period
		}
		var gating = g.gated()

		// See if the next edge occurred in this UI.
		// If not, just run the NCO open loop.
		// Allow multiple edges in the UI if the frequency is way off.
		var tnext = edges[nedge]
		for tnext+center < edgepos && nedge+1 < len(edges) {
			if !gating {
				// Find phase error
				var dphase = (edgepos - tnext) - period

				// If we're more than half a UI off, assume this is
				// actually part of the next UI
				if dphase > halfPeriod {
					dphase -= period
				}
				if dphase < -halfPeriod {
					dphase += period
				}

				// Find frequency error, normalizing multi-UI gaps.
				// A glitch contributes no frequency correction, and
				// neither does a spacing too short to round to a
				// whole UI.
				var uiLen = tnext - tlast
				if uiLen < initialPeriod/pllGlitchDivisor {
					uiLen = period
				} else {
					var numUIs = math.Round(float64(uiLen) / float64(initialPeriod))
					if numUIs == 0 {
						uiLen = period
					} else {
						uiLen = int64(float64(uiLen) / numUIs)
					}
				}
				var dperiod = period - uiLen

				// No corrections until we have one valid prior edge
				if tlast != 0 {
					// Frequency error term
					period -= int64(float64(dperiod) * pllFreqGain)

					// Phase error term
					period -= int64(float64(dphase) * pllPhaseGain)

					// Immediate bang-bang phase shift
					if dphase > 0 {
						edgepos -= period / 400
					} else {
						edgepos += period / 400
					}

					if f.Observer != nil {
						f.Observer(edgepos+period/2,
							float64(period), float64(dphase), float64(dperiod),
							float64(period-initialPeriod))
					}

					if period < fnyquist {
						log.Warn("clock recovery attempted to lock to frequency near or above Nyquist",
							"period", period, "fnyquist", fnyquist)
						nedge = len(edges)
						break
					}
				}
			}

			tlast = tnext
			nedge++
			tnext = edges[nedge]
		}

		// Add the sample (90 deg phase offset from the internal NCO)
		if !gating {
			out.Offsets = append(out.Offsets, edgepos+period/2)
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        reacquirePeriod
 *
 * Purpose:     Re-derive the unit interval after a squelched gap.
 *
 * Description:	Collects up to 512 subsequent edge-to-edge spacings.
 *		Each is either the UI width or an integer multiple of
 *		it, plus noise, so take the median and then average
 *		everything within 25% of it to reject the outliers.
 *
 *--------------------------------------------------------------------*/

func (f *ClockRecoveryFilter) reacquirePeriod(edges []int64, nedge int, edgepos, period int64) int64 {
	var lengths []float64
	for i := 1; i <= pllReacquireWindow; i++ {
		if i+nedge >= len(edges) {
			break
		}
		lengths = append(lengths, float64(edges[nedge+i]-edges[nedge+i-1]))
	}
	if len(lengths) == 0 {
		return period
	}

	sort.Float64s(lengths)
	var median = stat.Quantile(0.5, stat.Empirical, lengths, nil)

	// Look up/down and average everything kinda close to the median
	var near []float64
	for _, w := range lengths {
		if w >= 0.75*median && w <= 1.25*median {
			near = append(near, w)
		}
	}
	var avg = stat.Mean(near, nil)

	log.Debug("clock recovery ungated, reacquired",
		"at", edgepos, "edges", len(lengths), "median", median, "period", int64(avg))

	return int64(avg)
}

/*-------------------------------------------------------------------
 *
 * Name:        innerLoopWithNoGating
 *
 * Purpose:     PLL inner loop for the common ungated case.
 *
 * Description:	Identical control law to the gated loop but tracks
 *		the period as a float and hoists the per-step
 *		constants, since this path dominates the filter's
 *		run time on long captures.
 *
 *--------------------------------------------------------------------*/

func (f *ClockRecoveryFilter) innerLoopWithNoGating(
	out *SparseDigitalWaveform,
	edges []int64,
	tend int64,
	initialPeriod int64,
	halfPeriod int64,
	fnyquist int64,
) {
	var nedge = 1
	var edgepos = edges[0]

	var initialFrequency = 1.0 / float64(initialPeriod)
	var glitchCutoff = initialPeriod / pllGlitchDivisor
	var edgemax = len(edges) - 1
	var fHalfPeriod = float64(halfPeriod)

	var tlast = int64(0)
	var iperiod = initialPeriod
	var fperiod = float64(iperiod)
	for ; edgepos < tend && nedge < edgemax; edgepos += iperiod {
		var center = iperiod / 2

		// See if the next edge occurred in this UI.
		// If not, just run the NCO open loop.
		// Allow multiple edges in the UI if the frequency is way off.
		var tnext = edges[nedge]
		for tnext+center < edgepos && nedge < edgemax {
			// Find phase error
			var dphase = (edgepos - tnext) - iperiod
			var fdphase = float64(dphase)

			// If we're more than half a UI off, assume this is
			// actually part of the next UI
			if fdphase > fHalfPeriod {
				fdphase -= fperiod
			}
			if fdphase < -fHalfPeriod {
				fdphase += fperiod
			}

			// Find frequency error
			var uiLen = float64(tnext - tlast)
			var fdperiod = 0.0
			if uiLen > float64(glitchCutoff) { // no correction if we have a glitch
				var numUIs = math.Round(uiLen * initialFrequency)
				if numUIs != 0 { // divide by zero check needed in some cases
					uiLen /= numUIs
					fdperiod = fperiod - uiLen
				}
			}

			if tlast != 0 {
				// Frequency and phase error term
				var errorTerm = (fdperiod * pllFreqGain) + (fdphase * pllPhaseGain)
				fperiod -= errorTerm
				iperiod = int64(fperiod)

				// Immediate bang-bang phase shift
				var bangbang = int64(fperiod * 0.0025)
				if dphase > 0 {
					edgepos -= bangbang
				} else {
					edgepos += bangbang
				}

				if f.Observer != nil {
					f.Observer(edgepos+iperiod/2,
						fperiod, fdphase, fdperiod,
						fperiod-float64(initialPeriod))
				}

				if iperiod < fnyquist {
					log.Warn("clock recovery attempted to lock to frequency near or above Nyquist",
						"period", iperiod, "fnyquist", fnyquist)
					nedge = len(edges)
					break
				}
			}

			tlast = tnext
			nedge++
			tnext = edges[nedge]
		}

		// Add the sample (90 deg phase offset from the internal NCO)
		out.Offsets = append(out.Offsets, edgepos+center)
	}
}
