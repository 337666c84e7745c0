package periscope

/*------------------------------------------------------------------
 *
 * Purpose:   	Track the squelch state of an optional gate signal.
 *
 * Description:	A gate waveform is a digital signal whose level marks
 *		intervals where the recovered clock should run (true)
 *		or be held (false).  The recovery loop's candidate
 *		edge position only ever moves forward, so we keep a
 *		cursor into the gate waveform and advance it to the
 *		gate sample whose interval contains the current
 *		position.  The cursor never rewinds.
 *
 *		A nil gate means "never gated".
 *
 *---------------------------------------------------------------*/

type gateCursor struct {
	gate   DigitalWaveform
	igate  int
	gating bool
}

func newGateCursor(gate DigitalWaveform) *gateCursor {
	var g = &gateCursor{gate: gate}

	// If gated at T=0, start with output stopped
	if gate != nil && gate.Len() > 0 {
		g.gating = !gate.Level(0)
	}
	return g
}

// gated returns true when the clock is squelched at the given position.
func (g *gateCursor) gated() bool {
	return g.gating
}

// advance moves the cursor to the interval containing edgepos and
// returns true on a gated -> active transition, which requires the
// recovery loop to reacquire rather than resume a stale period.
func (g *gateCursor) advance(edgepos int64) bool {
	if g.gate == nil {
		return false
	}

	var wasGating = g.gating
	for g.igate < g.gate.Len()-1 {
		// See if this edge is within the region
		var a = g.gate.OffsetScaled(g.igate)
		var b = a + g.gate.DurationScaled(g.igate)

		// We went too far, stop
		if edgepos < a {
			break
		} else if edgepos > b {
			// Keep looking
			g.igate++
		} else {
			// Good alignment
			g.gating = !g.gate.Level(g.igate)
			break
		}
	}

	return wasGating && !g.gating
}
