package hypothesis

import (
	"errors"
	"testing"
	"time"

	"github.com/prattlelabs/prattle-core/internal/recognizer"
)

func TestNormalizeStampsInjectedClock(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	n := Normalizer{Clock: func() time.Time { return at }}

	hyp, err := n.Normalize(recognizer.Result{Text: "hello there", Confidence: 0.9, Final: true, SegmentSeq: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hyp.Text != "hello there" || !hyp.Final || hyp.SegmentSeq != 3 {
		t.Fatalf("fields not carried over: %+v", hyp)
	}
	if !hyp.Arrival.Equal(at) {
		t.Fatalf("arrival = %v, want %v", hyp.Arrival, at)
	}
}

func TestNormalizeTrimsEndsOnly(t *testing.T) {
	var n Normalizer
	hyp, err := n.Normalize(recognizer.Result{Text: "  the  quick brown \n"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Interior double space survives; the diff rules count characters.
	if hyp.Text != "the  quick brown" {
		t.Fatalf("text = %q", hyp.Text)
	}
}

func TestNormalizeClampsConfidence(t *testing.T) {
	var n Normalizer
	cases := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{3.7, 1},
	}
	for _, tc := range cases {
		hyp, err := n.Normalize(recognizer.Result{Text: "x", Confidence: tc.in})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if hyp.Confidence != tc.want {
			t.Errorf("confidence %v clamped to %v, want %v", tc.in, hyp.Confidence, tc.want)
		}
	}
}

func TestNormalizeRejectsInvalidUTF8(t *testing.T) {
	var n Normalizer
	_, err := n.Normalize(recognizer.Result{Text: string([]byte{0xff, 0xfe, 'a'})})
	if !errors.Is(err, ErrNotText) {
		t.Fatalf("error = %v, want ErrNotText", err)
	}
}

func TestNormalizeWrapsRecognizerError(t *testing.T) {
	var n Normalizer
	cause := errors.New("model crashed")
	_, err := n.Normalize(recognizer.Result{SegmentSeq: 7, Err: cause})
	if !errors.Is(err, cause) {
		t.Fatalf("error = %v, want wrapped %v", err, cause)
	}
}
