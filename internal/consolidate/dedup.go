// Package consolidate turns the noisy hypothesis stream coming out of a
// recognizer into a stable, append-only sequence of transcript fragments.
// It removes words repeated across overlapping audio segments, rate-limits
// jittery partial hypotheses, and computes the minimal new text to emit for
// each revision.
package consolidate

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/prattlelabs/prattle-core/internal/config"
)

// Deduplicator removes the leading words of a new hypothesis that repeat the
// trailing words of the previous one. Consecutive hypotheses recognized from
// overlapping audio segments re-transcribe the shared samples, so the start
// of each new text tends to duplicate the end of the last.
//
// The comparison basis is always the previous RAW hypothesis text, never the
// accumulated transcript: each raw hypothesis covers its segment's full
// recognized span, so only the neighbouring spans can share words.
type Deduplicator struct {
	maxWindow  int
	matchRatio float64
	wordSim    float64
	prevWords  []string
}

// NewDeduplicator builds a deduplicator from config, substituting the
// documented defaults for unset values.
func NewDeduplicator(cfg config.DedupConfig) *Deduplicator {
	d := &Deduplicator{
		maxWindow:  cfg.MaxWindow,
		matchRatio: cfg.MatchRatio,
		wordSim:    cfg.WordSimilarity,
	}
	if d.maxWindow < 1 {
		d.maxWindow = 10
	}
	if d.matchRatio <= 0 || d.matchRatio > 1 {
		d.matchRatio = 0.8
	}
	if d.wordSim <= 0 || d.wordSim > 1 {
		d.wordSim = 1.0
	}
	return d
}

// Dedup strips the overlap-duplicated prefix from raw and returns the
// remaining words joined by single spaces, plus the number of words dropped.
// It tries every candidate overlap length k up to the window size, accepts k
// when enough of the k word pairs match, and drops the largest accepted k.
// The stored comparison basis becomes raw's words in every case, including
// when raw is empty.
func (d *Deduplicator) Dedup(raw string) (string, int) {
	words := strings.Fields(raw)
	prev := d.prevWords
	d.prevWords = words

	if len(prev) == 0 || len(words) == 0 {
		return strings.Join(words, " "), 0
	}

	n := min(d.maxWindow, len(prev), len(words))
	best := 0
	for k := 1; k <= n; k++ {
		matched := 0
		for i := 0; i < k; i++ {
			if d.wordsMatch(prev[len(prev)-k+i], words[i]) {
				matched++
			}
		}
		if float64(matched)/float64(k) >= d.matchRatio {
			best = k
		}
	}
	return strings.Join(words[best:], " "), best
}

// wordsMatch compares two words under normalized equality. Below a
// similarity threshold of 1.0, a Jaro-Winkler score at or above the
// threshold also counts, which absorbs small recognition drift at segment
// boundaries ("later" vs "layer").
func (d *Deduplicator) wordsMatch(a, b string) bool {
	na, nb := normalizeWord(a), normalizeWord(b)
	if na == nb {
		return true
	}
	if d.wordSim >= 1 || na == "" || nb == "" {
		return false
	}
	return matchr.JaroWinkler(na, nb, false) >= d.wordSim
}

// normalizeWord lowercases and strips punctuation, keeping letters and
// digits only.
func normalizeWord(w string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(w) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
