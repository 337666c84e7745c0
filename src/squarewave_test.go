package periscope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func makeOffsets(n int) []int64 {
	var offsets = make([]int64, n)
	for i := range offsets {
		offsets[i] = int64(i+1) * 1000
	}
	return offsets
}

func TestFillSquarewaveGeneric(t *testing.T) {
	var out = &SparseDigitalWaveform{Scale: 1, Offsets: makeOffsets(5)}
	fillSquarewaveGeneric(out)

	assert.Equal(t, []bool{true, false, true, false, true}, out.Samples)
}

func TestFillDurationsGeneric(t *testing.T) {
	var out = &SparseDigitalWaveform{Scale: 1, Offsets: []int64{10, 30, 60, 100}}
	out.Resize(4)
	fillDurationsGeneric(out)

	assert.Equal(t, []int64{20, 30, 40, 40}, out.Durations)
}

func TestFillDurationsSingleSample(t *testing.T) {
	// Boundary case: one sample has no next offset and nothing to
	// copy, so the duration stays zero
	var out = &SparseDigitalWaveform{Scale: 1, Offsets: []int64{10}}
	out.Resize(1)

	fillDurationsGeneric(out)
	assert.Equal(t, []int64{0}, out.Durations)

	fillDurationsBlock32(out)
	assert.Equal(t, []int64{0}, out.Durations)
}

// The block fill is a performance path only; it must agree with the
// scalar fill exactly, for lengths below, at, and above the block
// width.
func TestBlockFillMatchesGeneric(t *testing.T) {
	for _, n := range []int{0, 1, 31, 32, 33, 63, 64, 65, 1000} {
		var a = &SparseDigitalWaveform{Scale: 1, Offsets: makeOffsets(n)}
		var b = &SparseDigitalWaveform{Scale: 1, Offsets: makeOffsets(n)}

		fillSquarewaveGeneric(a)
		fillDurationsGeneric(a)
		fillSquarewaveBlock32(b)
		fillDurationsBlock32(b)

		require.Equal(t, a.Samples, b.Samples, "samples diverge at length %d", n)
		require.Equal(t, a.Durations, b.Durations, "durations diverge at length %d", n)

		if n > 0 {
			assert.True(t, a.Samples[0], "output must start high")
		}
	}
}

func TestBlockFillMatchesGenericProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var deltas = rapid.SliceOfN(rapid.Int64Range(1, 1_000_000), 0, 200).Draw(t, "deltas")

		var offsets = make([]int64, len(deltas))
		var pos int64
		for i, d := range deltas {
			pos += d
			offsets[i] = pos
		}

		var a = &SparseDigitalWaveform{Scale: 1, Offsets: append([]int64{}, offsets...)}
		var b = &SparseDigitalWaveform{Scale: 1, Offsets: append([]int64{}, offsets...)}

		fillSquarewaveGeneric(a)
		fillDurationsGeneric(a)
		fillSquarewaveBlock32(b)
		fillDurationsBlock32(b)

		assert.Equal(t, a.Samples, b.Samples)
		assert.Equal(t, a.Durations, b.Durations)

		// Alternation and duration invariants hold on either path
		for i := range a.Samples {
			assert.Equal(t, i%2 == 0, a.Samples[i])
		}
		for i := 0; i+1 < len(a.Offsets); i++ {
			assert.Equal(t, a.Offsets[i+1]-a.Offsets[i], a.Durations[i])
		}
	})
}
