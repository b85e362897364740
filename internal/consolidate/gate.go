package consolidate

import "time"

// Gate rate-limits partial hypotheses. Recognizers revise partials rapidly
// while an utterance is in flight; the gate lets one through per stability
// interval so the committed output advances in calm steps. Final hypotheses
// never consult the gate.
type Gate struct {
	threshold  time.Duration
	lastStable time.Time
}

// NewGate returns a gate whose quiet interval starts counting at start, so
// the first partial can pass only after one full threshold of session time.
func NewGate(threshold time.Duration, start time.Time) *Gate {
	return &Gate{threshold: threshold, lastStable: start}
}

// Allow reports whether a partial observed at now may proceed, and resets
// the quiet interval when it may.
func (g *Gate) Allow(now time.Time) bool {
	if now.Sub(g.lastStable) < g.threshold {
		return false
	}
	g.lastStable = now
	return true
}
