package consolidate

import "unicode/utf8"

// Differ computes the new fragment to emit for a hypothesis relative to the
// text already emitted. Growth appends a suffix; a revision that is no
// longer than the emitted text yet differs from it is a correction and
// starts the comparison context over.
//
// All lengths are counted in runes so multi-byte text never splits inside a
// character.
type Differ struct {
	prev string
}

// Last returns the full text the differ currently remembers as emitted.
func (d *Differ) Last() string {
	return d.prev
}

// Diff applies the revision rules to cur and returns the fragment to emit,
// possibly empty, plus whether cur was a correction.
//
// A correction resets the remembered text before the fragment is computed,
// so the whole of cur is emitted and the next hypothesis is compared as if
// cur had been the first of the session. Equal text emits nothing. Anything
// longer is taken as the remembered text plus a continuation: the fragment
// is cur minus its first len(prev) runes, and cur becomes the new
// remembered text.
func (d *Differ) Diff(cur string) (string, bool) {
	prevLen := utf8.RuneCountInString(d.prev)
	curRunes := []rune(cur)

	corrected := false
	if len(curRunes) <= prevLen && cur != d.prev {
		d.prev = ""
		prevLen = 0
		corrected = true
	}
	if cur == d.prev {
		return "", corrected
	}

	fragment := string(curRunes[prevLen:])
	d.prev = cur
	return fragment, corrected
}
