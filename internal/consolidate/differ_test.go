package consolidate

import (
	"strings"
	"testing"
)

func TestDifferEmitsSuffixOnGrowth(t *testing.T) {
	var d Differ
	if frag, corrected := d.Diff("the quick brown"); frag != "the quick brown" || corrected {
		t.Fatalf("first diff = %q (corrected %v)", frag, corrected)
	}
	frag, corrected := d.Diff("the quick brown fox jumps")
	if frag != " fox jumps" {
		t.Fatalf("fragment = %q, want %q", frag, " fox jumps")
	}
	if corrected {
		t.Fatal("growth flagged as correction")
	}
	if d.Last() != "the quick brown fox jumps" {
		t.Fatalf("remembered = %q", d.Last())
	}
}

func TestDifferGrowthConcatenationEqualsFinalText(t *testing.T) {
	steps := []string{
		"it",
		"it was",
		"it was the best",
		"it was the best of times",
	}
	var d Differ
	var b strings.Builder
	for _, s := range steps {
		frag, _ := d.Diff(s)
		b.WriteString(frag)
	}
	if b.String() != steps[len(steps)-1] {
		t.Fatalf("concatenation %q != final text %q", b.String(), steps[len(steps)-1])
	}
}

func TestDifferEqualTextEmitsNothing(t *testing.T) {
	var d Differ
	d.Diff("steady state")
	frag, corrected := d.Diff("steady state")
	if frag != "" || corrected {
		t.Fatalf("repeat emitted %q (corrected %v)", frag, corrected)
	}
	if d.Last() != "steady state" {
		t.Fatalf("remembered = %q", d.Last())
	}
}

func TestDifferShorterTextIsCorrection(t *testing.T) {
	var d Differ
	d.Diff("hello world")
	frag, corrected := d.Diff("hi")
	if frag != "hi" || !corrected {
		t.Fatalf("correction emitted %q (corrected %v)", frag, corrected)
	}
	// The next hypothesis is diffed as if "hi" had been the first of the
	// session.
	frag, corrected = d.Diff("hi there")
	if frag != " there" || corrected {
		t.Fatalf("post-correction diff = %q (corrected %v)", frag, corrected)
	}
}

func TestDifferEqualLengthDivergenceIsCorrection(t *testing.T) {
	var d Differ
	d.Diff("cat")
	frag, corrected := d.Diff("dog")
	if frag != "dog" || !corrected {
		t.Fatalf("equal-length divergence emitted %q (corrected %v)", frag, corrected)
	}
}

func TestDifferEmptyCorrectionEmitsNothing(t *testing.T) {
	var d Differ
	d.Diff("something")
	frag, corrected := d.Diff("")
	if frag != "" {
		t.Fatalf("empty correction emitted %q", frag)
	}
	if !corrected {
		t.Fatal("empty revision of non-empty text not flagged as correction")
	}
	if d.Last() != "" {
		t.Fatalf("remembered = %q, want empty", d.Last())
	}
}

func TestDifferCountsRunesNotBytes(t *testing.T) {
	var d Differ
	d.Diff("héllo")
	frag, corrected := d.Diff("héllo wörld")
	if frag != " wörld" || corrected {
		t.Fatalf("fragment = %q (corrected %v)", frag, corrected)
	}
}

func TestDifferDivergentLongerTextEmitsCharacterSuffix(t *testing.T) {
	// Rule 3 drops exactly len(prev) characters even when the longer text
	// does not extend the previous one verbatim.
	var d Differ
	d.Diff("12345")
	frag, corrected := d.Diff("abcdefgh")
	if frag != "fgh" || corrected {
		t.Fatalf("fragment = %q (corrected %v), want %q", frag, corrected, "fgh")
	}
}
