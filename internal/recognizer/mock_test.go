package recognizer

import (
	"context"
	"testing"
	"time"

	"github.com/prattlelabs/prattle-core/internal/pcm"
	"github.com/prattlelabs/prattle-core/internal/segment"
)

func TestMockSessionEmitsOneFinalPerSegment(t *testing.T) {
	rec := NewMock()
	sess, err := rec.Open(context.Background(), StreamConfig{Format: pcm.Format{SampleRate: 16000, Channels: 1}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	seg := segment.Segment{Seq: 3, Duration: 500 * time.Millisecond, PCM: make([]byte, 320)}
	if err := sess.SendSegment(context.Background(), seg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []Result
	for res := range sess.Results() {
		got = append(got, res)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if !got[0].Final || got[0].SegmentSeq != 3 || got[0].Text == "" {
		t.Fatalf("unexpected result: %+v", got[0])
	}
}
