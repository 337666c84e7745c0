package periscope

/*------------------------------------------------------------------
 *
 * Purpose:   	Measure the area under an analog waveform.
 *
 * Description:	Two modes. Full record integrates the whole capture
 *		and produces the running integral in volt-seconds
 *		plus the final value as a scalar.  Per cycle finds
 *		the waveform's cycles by auto-thresholding at the
 *		average voltage and produces one area value per full
 *		cycle (crossing to second-next crossing, since every
 *		crossing is found regardless of polarity).
 *
 *		Either the signed area or the absolute area can be
 *		requested.  Sums are compensated; a long capture of
 *		small samples loses precision in a naive accumulator.
 *
 *---------------------------------------------------------------*/

import (
	"math"
)

type AreaMeasurementMode int

const (
	FullRecord AreaMeasurementMode = iota
	CycleArea
)

type AreaKind int

const (
	TrueArea AreaKind = iota
	AbsoluteArea
)

// AreaMeasurement computes area under the curve of an analog signal.
type AreaMeasurement struct {
	Mode AreaMeasurementMode
	Kind AreaKind
}

// Measure runs the configured measurement. The returned waveform is
// the running integral (full record) or the per-cycle areas, shaped
// to match the input. The scalar is the final full-record value, NaN
// in per-cycle mode or when the input is unusable.
func (m *AreaMeasurement) Measure(din AnalogWaveform) (Waveform, float64) {
	if din == nil || din.Len() == 0 {
		return nil, math.NaN()
	}

	if m.Mode == FullRecord {
		return m.measureFullRecord(din)
	}
	return m.measureCycleArea(din), math.NaN()
}

func (m *AreaMeasurement) sample(din AnalogWaveform, i int) float64 {
	var v = float64(din.Voltage(i))
	if m.Kind == AbsoluteArea {
		return math.Abs(v)
	}
	return v
}

func (m *AreaMeasurement) measureFullRecord(din AnalogWaveform) (Waveform, float64) {
	var length = din.Len()
	var samp float64
	var sum KahanSummation

	switch in := din.(type) {
	case *UniformAnalogWaveform:
		var out = &UniformAnalogWaveform{
			Scale:   in.Scale,
			Samples: make([]float32, 0, length),
		}
		for i := 0; i < length; i++ {
			sum.Add(m.sample(din, i) * float64(din.DurationScaled(i)))
			samp = sum.Sum() / FS_PER_SECOND
			out.Samples = append(out.Samples, float32(samp))
		}
		return out, samp

	default:
		var out = &SparseAnalogWaveform{Scale: din.Timescale()}
		var scale = din.Timescale()
		for i := 0; i < length; i++ {
			sum.Add(m.sample(din, i) * float64(din.DurationScaled(i)))
			samp = sum.Sum() / FS_PER_SECOND
			out.Offsets = append(out.Offsets, din.OffsetScaled(i)/scale)
			out.Durations = append(out.Durations, din.DurationScaled(i)/scale)
			out.Samples = append(out.Samples, float32(samp))
		}
		return out, samp
	}
}

func (m *AreaMeasurement) measureCycleArea(din AnalogWaveform) Waveform {
	// Auto-threshold at the average of the full record
	var average = AverageVoltage(din)
	var edges = FindZeroCrossings(din, average)

	// We need at least one full cycle of the waveform
	if len(edges) < 2 {
		return nil
	}

	var length = din.Len()
	var scale = din.Timescale()
	var out = &SparseAnalogWaveform{Scale: scale}

	// Calculate area for every cycle. Measure from one edge to two
	// edges later, since crossings of both polarities were found.
	for i := 0; i+2 < len(edges); i += 2 {
		var start = edges[i] / scale
		var end = edges[i+2] / scale

		var sum KahanSummation
		var j = start
		for ; j <= end && j < int64(length); j++ {
			sum.Add(m.sample(din, int(j)) * float64(din.DurationScaled(int(j))) / float64(scale))
		}

		// Number of samples the measurement actually covered
		var delta = j - start - 1
		if delta != 0 {
			out.Offsets = append(out.Offsets, start)
			out.Durations = append(out.Durations, delta)
			out.Samples = append(out.Samples, float32(sum.Sum()*float64(scale)/FS_PER_SECOND))
		}
	}

	return out
}
