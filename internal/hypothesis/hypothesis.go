// Package hypothesis normalizes recognizer-native results into the uniform
// record the consolidation pipeline consumes.
package hypothesis

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prattlelabs/prattle-core/internal/recognizer"
)

// ErrNotText marks a result whose text is not valid UTF-8. The fragment is
// dropped with a diagnostic; the session continues.
var ErrNotText = errors.New("hypothesis text is not valid UTF-8")

// Hypothesis is one normalized recognition result. The pipeline consumes it
// exactly once and keeps only derived state.
type Hypothesis struct {
	Text       string
	Confidence float64
	Final      bool
	Arrival    time.Time
	SegmentSeq uint64
}

// Normalizer maps recognizer results to Hypotheses. The zero value stamps
// arrivals with time.Now; tests inject their own clock.
type Normalizer struct {
	Clock func() time.Time
}

// Normalize wraps res into a Hypothesis. A result carrying an error is the
// recognizer's per-segment failure and comes back wrapped; invalid UTF-8
// text comes back as ErrNotText. Confidence is clamped to [0, 1] and text is
// trimmed at the ends only, since interior spacing feeds the character diff.
func (n Normalizer) Normalize(res recognizer.Result) (Hypothesis, error) {
	if res.Err != nil {
		return Hypothesis{}, fmt.Errorf("recognizer result for segment %d: %w", res.SegmentSeq, res.Err)
	}
	if !utf8.ValidString(res.Text) {
		return Hypothesis{}, fmt.Errorf("segment %d: %w", res.SegmentSeq, ErrNotText)
	}

	conf := res.Confidence
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}

	return Hypothesis{
		Text:       strings.TrimSpace(res.Text),
		Confidence: conf,
		Final:      res.Final,
		Arrival:    n.now(),
		SegmentSeq: res.SegmentSeq,
	}, nil
}

func (n Normalizer) now() time.Time {
	if n.Clock != nil {
		return n.Clock()
	}
	return time.Now()
}
