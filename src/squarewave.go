package periscope

/*------------------------------------------------------------------
 *
 * Purpose:   	Synthesize the recovered clock output waveform.
 *
 * Description:	The recovery loop produces only edge timestamps.  The
 *		output waveform needs alternating logic levels and a
 *		duration for every sample.  Two implementations exist:
 *		a scalar one, and a 32-wide block fill that writes a
 *		precomputed alternating pattern a block at a time so
 *		the compiler can vectorize the copies.  The block path
 *		is picked once at startup on hardware with AVX2 and
 *		must produce byte-identical output to the scalar path
 *		for any length.
 *
 *---------------------------------------------------------------*/

import (
	"golang.org/x/sys/cpu"
)

const squarewaveBlockWidth = 32

// Selected once at startup; immutable process-wide configuration.
var useBlockFill = cpu.X86.HasAVX2

// squarewavePattern is one block of the output: true at even indices.
var squarewavePattern = func() [squarewaveBlockWidth]bool {
	var p [squarewaveBlockWidth]bool
	for i := range p {
		p[i] = i%2 == 0
	}
	return p
}()

// fillSquarewave populates the sample values for the edge offsets
// already in the waveform, using the strategy selected at startup.
// Call fillDurations afterwards; it expects the final sample count.
func fillSquarewave(out *SparseDigitalWaveform) {
	if useBlockFill {
		fillSquarewaveBlock32(out)
	} else {
		fillSquarewaveGeneric(out)
	}
}

func fillDurations(out *SparseDigitalWaveform) {
	if useBlockFill {
		fillDurationsBlock32(out)
	} else {
		fillDurationsGeneric(out)
	}
}

// fillSquarewaveGeneric alternates the logic level per sample,
// starting true at index 0.
func fillSquarewaveGeneric(out *SparseDigitalWaveform) {
	var n = len(out.Offsets)
	out.Resize(n)

	var value = false
	for i := 0; i < n; i++ {
		value = !value
		out.Samples[i] = value
	}
}

// fillSquarewaveBlock32 writes whole 32-sample blocks of the
// alternating pattern, then finishes the tail with the scalar loop.
// The block width is even, so every block begins with true.
func fillSquarewaveBlock32(out *SparseDigitalWaveform) {
	var n = len(out.Offsets)
	out.Resize(n)
	if n == 0 {
		return
	}

	var end = n - (n % squarewaveBlockWidth)
	for i := 0; i < end; i += squarewaveBlockWidth {
		copy(out.Samples[i:i+squarewaveBlockWidth], squarewavePattern[:])
	}

	var value = false
	for i := end; i < n; i++ {
		value = !value
		out.Samples[i] = value
	}
}

// fillDurationsGeneric sets each sample's duration to the gap to the
// next offset. The last sample copies the previous duration; a single
// sample output keeps duration zero since there is nothing to copy.
func fillDurationsGeneric(out *SparseDigitalWaveform) {
	var n = len(out.Offsets)
	for i := 0; i+1 < n; i++ {
		out.Durations[i] = out.Offsets[i+1] - out.Offsets[i]
	}
	if n >= 2 {
		out.Durations[n-1] = out.Durations[n-2]
	}
}

// fillDurationsBlock32 computes the offset deltas a block at a time.
func fillDurationsBlock32(out *SparseDigitalWaveform) {
	var n = len(out.Offsets)
	if n < 2 {
		return
	}

	var end = (n - 1) - ((n - 1) % squarewaveBlockWidth)
	for i := 0; i < end; i += squarewaveBlockWidth {
		var off = out.Offsets[i : i+squarewaveBlockWidth+1]
		var dur = out.Durations[i : i+squarewaveBlockWidth]
		for j := 0; j < squarewaveBlockWidth; j++ {
			dur[j] = off[j+1] - off[j]
		}
	}
	for i := end; i+1 < n; i++ {
		out.Durations[i] = out.Offsets[i+1] - out.Offsets[i]
	}
	out.Durations[n-1] = out.Durations[n-2]
}
