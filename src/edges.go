package periscope

/*------------------------------------------------------------------
 *
 * Purpose:   	Locate signal transitions in a waveform.
 *
 * Description:	Clock recovery and per-cycle measurements work on the
 *		ordered list of times at which the input crosses a
 *		threshold (analog) or changes logic level (digital).
 *
 *		Timestamps are whole femtoseconds.  The tracking loop
 *		operates at whole-edge granularity, so crossings are
 *		reported at the offset of the first sample past the
 *		crossing rather than interpolated, consistently for
 *		both shapes.
 *
 *---------------------------------------------------------------*/

// FindZeroCrossings scans an analog waveform and appends the timestamp
// of every crossing of the given threshold. The result is ordered and
// empty for a flat or constant signal.
func FindZeroCrossings(w AnalogWaveform, threshold float32) []int64 {
	var edges []int64
	var n = w.Len()
	if n == 0 {
		return edges
	}

	var last = w.Voltage(0) > threshold
	for i := 1; i < n; i++ {
		var value = w.Voltage(i) > threshold
		if value != last {
			edges = append(edges, w.OffsetScaled(i))
			last = value
		}
	}
	return edges
}

// FindEdges scans a digital waveform and appends the timestamp of every
// logic-level transition.
func FindEdges(w DigitalWaveform) []int64 {
	var edges []int64
	var n = w.Len()
	if n == 0 {
		return edges
	}

	var last = w.Level(0)
	for i := 1; i < n; i++ {
		var value = w.Level(i)
		if value != last {
			edges = append(edges, w.OffsetScaled(i))
			last = value
		}
	}
	return edges
}

// findEdgesAny dispatches on the waveform's value kind. Digital inputs
// ignore the threshold. Returns nil for shapes with no value accessor.
func findEdgesAny(w Waveform, threshold float32) []int64 {
	switch din := w.(type) {
	case AnalogWaveform:
		return FindZeroCrossings(din, threshold)
	case DigitalWaveform:
		return FindEdges(din)
	default:
		return nil
	}
}
