package periscope

/*------------------------------------------------------------------
 *
 * Purpose:   	Waveform sample model shared by every filter.
 *
 * Description:	A waveform is a sequence of samples in one of four
 *		combinations: uniform or sparse timing, crossed with
 *		analog (voltage) or digital (logic level) values.
 *
 *		Uniform waveforms space samples a fixed timescale
 *		apart; sample i occupies time i*timescale.  Sparse
 *		waveforms carry an explicit offset and duration per
 *		sample, in timescale units.
 *
 *		Filters are written against the Waveform interfaces
 *		so they never need to know the concrete shape.
 *
 *---------------------------------------------------------------*/

// FS_PER_SECOND is the number of femtoseconds in one second.
// All waveform timestamps are femtoseconds.
const FS_PER_SECOND = 1e15

// Waveform is the read-only accessor contract every shape satisfies.
type Waveform interface {
	// Len returns the number of samples.
	Len() int

	// Timescale returns the femtoseconds per timebase unit.
	Timescale() int64

	// OffsetScaled returns the start time of sample i in femtoseconds.
	OffsetScaled(i int) int64

	// DurationScaled returns the length of sample i in femtoseconds.
	DurationScaled(i int) int64
}

// AnalogWaveform is a waveform whose samples are voltages.
type AnalogWaveform interface {
	Waveform
	Voltage(i int) float32
}

// DigitalWaveform is a waveform whose samples are logic levels.
type DigitalWaveform interface {
	Waveform
	Level(i int) bool
}

// UniformAnalogWaveform holds analog samples at fixed spacing.
type UniformAnalogWaveform struct {
	Scale   int64 // fs per sample
	Samples []float32
}

func (w *UniformAnalogWaveform) Len() int { return len(w.Samples) }
func (w *UniformAnalogWaveform) Timescale() int64 { return w.Scale }
func (w *UniformAnalogWaveform) OffsetScaled(i int) int64 { return int64(i) * w.Scale }
func (w *UniformAnalogWaveform) DurationScaled(i int) int64 { return w.Scale }
func (w *UniformAnalogWaveform) Voltage(i int) float32 { return w.Samples[i] }

// SparseAnalogWaveform holds analog samples with explicit timing.
type SparseAnalogWaveform struct {
	Scale     int64 // fs per timebase unit
	Offsets   []int64
	Durations []int64
	Samples   []float32
}

func (w *SparseAnalogWaveform) Len() int { return len(w.Samples) }
func (w *SparseAnalogWaveform) Timescale() int64 { return w.Scale }
func (w *SparseAnalogWaveform) OffsetScaled(i int) int64 { return w.Offsets[i] * w.Scale }
func (w *SparseAnalogWaveform) DurationScaled(i int) int64 { return w.Durations[i] * w.Scale }
func (w *SparseAnalogWaveform) Voltage(i int) float32 { return w.Samples[i] }

// UniformDigitalWaveform holds logic levels at fixed spacing.
type UniformDigitalWaveform struct {
	Scale   int64 // fs per sample
	Samples []bool
}

func (w *UniformDigitalWaveform) Len() int { return len(w.Samples) }
func (w *UniformDigitalWaveform) Timescale() int64 { return w.Scale }
func (w *UniformDigitalWaveform) OffsetScaled(i int) int64 { return int64(i) * w.Scale }
func (w *UniformDigitalWaveform) DurationScaled(i int) int64 { return w.Scale }
func (w *UniformDigitalWaveform) Level(i int) bool { return w.Samples[i] }

// SparseDigitalWaveform holds logic levels with explicit timing.
// The recovered clock output is always this shape, at 1 fs timescale.
type SparseDigitalWaveform struct {
	Scale     int64 // fs per timebase unit
	Offsets   []int64
	Durations []int64
	Samples   []bool
}

func (w *SparseDigitalWaveform) Len() int { return len(w.Offsets) }
func (w *SparseDigitalWaveform) Timescale() int64 { return w.Scale }
func (w *SparseDigitalWaveform) OffsetScaled(i int) int64 { return w.Offsets[i] * w.Scale }
func (w *SparseDigitalWaveform) DurationScaled(i int) int64 { return w.Durations[i] * w.Scale }
func (w *SparseDigitalWaveform) Level(i int) bool { return w.Samples[i] }

// Resize grows or shrinks all three sample slices to n entries.
func (w *SparseDigitalWaveform) Resize(n int) {
	w.Offsets = resizeInt64(w.Offsets, n)
	w.Durations = resizeInt64(w.Durations, n)
	if n <= cap(w.Samples) {
		w.Samples = w.Samples[:n]
	} else {
		var s = make([]bool, n)
		copy(s, w.Samples)
		w.Samples = s
	}
}

// Resize grows or shrinks all three sample slices to n entries.
func (w *SparseAnalogWaveform) Resize(n int) {
	w.Offsets = resizeInt64(w.Offsets, n)
	w.Durations = resizeInt64(w.Durations, n)
	if n <= cap(w.Samples) {
		w.Samples = w.Samples[:n]
	} else {
		var s = make([]float32, n)
		copy(s, w.Samples)
		w.Samples = s
	}
}

func resizeInt64(s []int64, n int) []int64 {
	if n <= cap(s) {
		return s[:n]
	}
	var out = make([]int64, n)
	copy(out, s)
	return out
}

// AverageVoltage returns the mean sample value of an analog waveform.
// Used to auto-threshold signals with unknown levels.
func AverageVoltage(w AnalogWaveform) float32 {
	var n = w.Len()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(w.Voltage(i))
	}
	return float32(sum / float64(n))
}
