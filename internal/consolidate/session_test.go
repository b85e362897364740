package consolidate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prattlelabs/prattle-core/internal/config"
	"github.com/prattlelabs/prattle-core/internal/hypothesis"
	"github.com/prattlelabs/prattle-core/internal/protocol"
)

var sessionStart = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

type captureSink struct {
	frags []protocol.Fragment
	err   error
}

func (c *captureSink) Emit(_ context.Context, f protocol.Fragment) error {
	if c.err != nil {
		return c.err
	}
	c.frags = append(c.frags, f)
	return nil
}

// committed returns the non-partial fragments in emission order.
func (c *captureSink) committed() []protocol.Fragment {
	var out []protocol.Fragment
	for _, f := range c.frags {
		if f.Committed() {
			out = append(out, f)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(sink Sink, dedup *Deduplicator, stability time.Duration) *Session {
	return NewSession(SessionConfig{
		ID:        "sess-test",
		Sink:      sink,
		Dedup:     dedup,
		Stability: stability,
		Start:     sessionStart,
		Log:       discardLogger(),
		Clock:     func() time.Time { return sessionStart },
	})
}

func hyp(text string, final bool, at time.Time) hypothesis.Hypothesis {
	return hypothesis.Hypothesis{Text: text, Confidence: 0.9, Final: final, Arrival: at}
}

func TestSessionFinalBypassesGate(t *testing.T) {
	sink := &captureSink{}
	s := newTestSession(sink, nil, 5*time.Second)

	// Zero elapsed session time: a partial would be held, a final must not be.
	s.Process(context.Background(), hyp("done and settled", true, sessionStart))

	if len(sink.frags) != 1 {
		t.Fatalf("emitted %d fragments, want 1", len(sink.frags))
	}
	got := sink.frags[0]
	if got.Kind != protocol.KindFinal || got.Text != "done and settled" {
		t.Fatalf("fragment = %+v", got)
	}
}

func TestSessionGateHoldsThenCommitsPartial(t *testing.T) {
	sink := &captureSink{}
	s := newTestSession(sink, nil, 5*time.Second)

	s.Process(context.Background(), hyp("the quick", false, sessionStart.Add(time.Second)))
	if got := sink.committed(); len(got) != 0 {
		t.Fatalf("gate leaked a committed fragment: %+v", got)
	}
	// The held text is still broadcast as a volatile partial snapshot.
	if len(sink.frags) != 1 || sink.frags[0].Kind != protocol.KindPartial || sink.frags[0].Text != "the quick" {
		t.Fatalf("partial snapshot = %+v", sink.frags)
	}

	s.Process(context.Background(), hyp("the quick brown fox", false, sessionStart.Add(6*time.Second)))
	got := sink.committed()
	if len(got) != 1 {
		t.Fatalf("committed %d fragments, want 1", len(got))
	}
	if got[0].Kind != protocol.KindConfirmed || got[0].Text != "the quick brown fox" {
		t.Fatalf("fragment = %+v", got[0])
	}
}

func TestSessionGrowthConcatenation(t *testing.T) {
	sink := &captureSink{}
	s := newTestSession(sink, nil, 0)

	steps := []string{"we", "we are", "we are live"}
	at := sessionStart
	for _, text := range steps {
		at = at.Add(time.Second)
		s.Process(context.Background(), hyp(text, false, at))
	}

	var b strings.Builder
	for _, f := range sink.committed() {
		b.WriteString(f.Text)
	}
	if b.String() != "we are live" {
		t.Fatalf("concatenation = %q", b.String())
	}
}

func TestSessionAppendScenario(t *testing.T) {
	sink := &captureSink{}
	s := newTestSession(sink, nil, 0)

	s.Process(context.Background(), hyp("the quick brown", true, sessionStart))
	s.Process(context.Background(), hyp("the quick brown fox jumps", true, sessionStart.Add(time.Second)))

	got := sink.committed()
	if len(got) != 2 {
		t.Fatalf("committed %d fragments, want 2", len(got))
	}
	if got[1].Text != " fox jumps" {
		t.Fatalf("second fragment = %q, want %q", got[1].Text, " fox jumps")
	}
}

func TestSessionCorrectionScenario(t *testing.T) {
	sink := &captureSink{}
	s := newTestSession(sink, nil, 0)

	s.Process(context.Background(), hyp("hello world", true, sessionStart))
	s.Process(context.Background(), hyp("hi", true, sessionStart.Add(time.Second)))

	got := sink.committed()
	if len(got) != 2 {
		t.Fatalf("committed %d fragments, want 2", len(got))
	}
	if got[1].Text != "hi" || got[1].Kind != protocol.KindFinal {
		t.Fatalf("correction fragment = %+v", got[1])
	}

	// The session now behaves as if "hi" opened it.
	s.Process(context.Background(), hyp("hi again", true, sessionStart.Add(2*time.Second)))
	got = sink.committed()
	if got[2].Text != " again" {
		t.Fatalf("post-correction fragment = %q", got[2].Text)
	}
}

func TestSessionSkipsOutOfOrderArrivals(t *testing.T) {
	sink := &captureSink{}
	s := newTestSession(sink, nil, 0)

	s.Process(context.Background(), hyp("first", true, sessionStart.Add(2*time.Second)))
	s.Process(context.Background(), hyp("stale", true, sessionStart.Add(time.Second)))

	got := sink.committed()
	if len(got) != 1 || got[0].Text != "first" {
		t.Fatalf("fragments = %+v", got)
	}
	// Equal arrival is non-decreasing and must pass.
	s.Process(context.Background(), hyp("first again", true, sessionStart.Add(2*time.Second)))
	if got := sink.committed(); len(got) != 2 {
		t.Fatalf("equal-time arrival skipped: %+v", got)
	}
}

func TestSessionDedupComposesAgainstEmittedText(t *testing.T) {
	sink := &captureSink{}
	s := newTestSession(sink, NewDeduplicator(config.DedupConfig{}), 0)

	s.Process(context.Background(), hyp("see you later today", true, sessionStart))
	s.Process(context.Background(), hyp("later today we will meet", true, sessionStart.Add(time.Second)))

	got := sink.committed()
	if len(got) != 2 {
		t.Fatalf("committed %d fragments, want 2", len(got))
	}
	if got[0].Text != "see you later today" {
		t.Fatalf("first fragment = %q", got[0].Text)
	}
	if got[1].Text != " we will meet" {
		t.Fatalf("second fragment = %q, want %q", got[1].Text, " we will meet")
	}
}

func TestSessionDedupAllDuplicateEmitsNothing(t *testing.T) {
	sink := &captureSink{}
	s := newTestSession(sink, NewDeduplicator(config.DedupConfig{}), 0)

	s.Process(context.Background(), hyp("same segment text", true, sessionStart))
	s.Process(context.Background(), hyp("same segment text", true, sessionStart.Add(time.Second)))

	got := sink.committed()
	if len(got) != 1 {
		t.Fatalf("duplicate segment emitted a fragment: %+v", got)
	}
	// State still advanced: a third segment overlapping the second dedups
	// against it.
	s.Process(context.Background(), hyp("segment text continues here", true, sessionStart.Add(2*time.Second)))
	got = sink.committed()
	if len(got) != 2 || got[1].Text != " continues here" {
		t.Fatalf("fragments = %+v", got)
	}
}

func TestSessionDedupComposesAgainstPendingText(t *testing.T) {
	sink := &captureSink{}
	s := newTestSession(sink, NewDeduplicator(config.DedupConfig{}), 5*time.Second)

	// Held by the gate: becomes pending, not emitted.
	s.Process(context.Background(), hyp("alpha beta", false, sessionStart.Add(time.Second)))
	// Gate open: the composition base must be the pending text, or the held
	// words would be lost.
	s.Process(context.Background(), hyp("beta gamma", false, sessionStart.Add(6*time.Second)))

	got := sink.committed()
	if len(got) != 1 {
		t.Fatalf("committed %d fragments, want 1", len(got))
	}
	if got[0].Text != "alpha beta gamma" {
		t.Fatalf("fragment = %q, want %q", got[0].Text, "alpha beta gamma")
	}
}

func TestSessionCloseDiscardsPending(t *testing.T) {
	sink := &captureSink{}
	s := newTestSession(sink, nil, time.Hour)

	s.Process(context.Background(), hyp("committed part", true, sessionStart))
	s.Process(context.Background(), hyp("committed part plus a tail", false, sessionStart.Add(time.Second)))

	before := len(sink.committed())
	s.Close()
	s.Close() // second close is a no-op

	if got := sink.committed(); len(got) != before {
		t.Fatalf("close emitted fragments: %+v", got[before:])
	}
}

func TestSessionPendingSupersededByFinal(t *testing.T) {
	sink := &captureSink{}
	s := newTestSession(sink, nil, time.Hour)

	s.Process(context.Background(), hyp("draft of the", false, sessionStart.Add(time.Second)))
	s.Process(context.Background(), hyp("draft of the sentence", true, sessionStart.Add(2*time.Second)))
	s.Close()

	got := sink.committed()
	if len(got) != 1 || got[0].Text != "draft of the sentence" || got[0].Kind != protocol.KindFinal {
		t.Fatalf("fragments = %+v", got)
	}
}

func TestSessionEmptyPartialNotBroadcast(t *testing.T) {
	sink := &captureSink{}
	s := newTestSession(sink, nil, time.Hour)

	s.Process(context.Background(), hyp("", false, sessionStart.Add(time.Second)))
	if len(sink.frags) != 0 {
		t.Fatalf("empty pending text broadcast: %+v", sink.frags)
	}
}

func TestSessionSinkFailureDoesNotAlterState(t *testing.T) {
	sink := &captureSink{err: errors.New("pipe closed")}
	s := newTestSession(sink, nil, 0)

	s.Process(context.Background(), hyp("lost on the wire", true, sessionStart))

	// The emitted context advanced even though the sink failed; the next
	// hypothesis diffs against it rather than re-emitting everything.
	sink.err = nil
	s.Process(context.Background(), hyp("lost on the wire but recovered", true, sessionStart.Add(time.Second)))
	got := sink.committed()
	if len(got) != 1 || got[0].Text != " but recovered" {
		t.Fatalf("fragments = %+v", got)
	}
}
