package recognizer

import (
	"errors"
	"testing"
)

func TestOrderBufferReordersCompletions(t *testing.T) {
	b := newOrderBuffer(0)

	if got := b.Add(Result{SegmentSeq: 2, Text: "two"}); got != nil {
		t.Fatalf("segment 2 released before 0 and 1: %v", got)
	}
	if got := b.Add(Result{SegmentSeq: 1, Text: "one"}); got != nil {
		t.Fatalf("segment 1 released before 0: %v", got)
	}

	got := b.Add(Result{SegmentSeq: 0, Text: "zero"})
	if len(got) != 3 {
		t.Fatalf("released %d results, want 3", len(got))
	}
	for i, r := range got {
		if r.SegmentSeq != uint64(i) {
			t.Errorf("position %d holds segment %d", i, r.SegmentSeq)
		}
	}
	if b.Len() != 0 {
		t.Fatalf("%d results still parked", b.Len())
	}
}

func TestOrderBufferReleasesPastFailedSegments(t *testing.T) {
	b := newOrderBuffer(0)

	if got := b.Add(Result{SegmentSeq: 1, Text: "one"}); got != nil {
		t.Fatalf("segment 1 released before 0: %v", got)
	}

	got := b.Add(Result{SegmentSeq: 0, Err: errors.New("decode failed")})
	if len(got) != 2 {
		t.Fatalf("released %d results, want 2", len(got))
	}
	if got[0].Err == nil {
		t.Fatal("failed segment lost its error")
	}
	if got[1].Text != "one" {
		t.Fatalf("segment behind the failure not released: %+v", got[1])
	}
}

func TestOrderBufferDropsAlreadyReleasedSequences(t *testing.T) {
	b := newOrderBuffer(0)

	if got := b.Add(Result{SegmentSeq: 0, Text: "zero"}); len(got) != 1 {
		t.Fatalf("released %d results, want 1", len(got))
	}
	if got := b.Add(Result{SegmentSeq: 0, Text: "zero again"}); got != nil {
		t.Fatalf("stale sequence released: %v", got)
	}
}
