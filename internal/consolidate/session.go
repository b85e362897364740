package consolidate

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prattlelabs/prattle-core/internal/hypothesis"
	"github.com/prattlelabs/prattle-core/internal/observe"
	"github.com/prattlelabs/prattle-core/internal/protocol"
)

// Sink receives the fragments a session emits. The append-only output
// contract lives on the implementations; the session only ever adds.
type Sink interface {
	Emit(ctx context.Context, frag protocol.Fragment) error
}

// SessionConfig carries the dependencies of one consolidation session.
type SessionConfig struct {
	ID   string
	Sink Sink

	// Dedup strips segment-overlap repeats before diffing. Leave nil when
	// the audio windows do not overlap.
	Dedup *Deduplicator

	// Stability is the minimum quiet interval between committed partial
	// emissions.
	Stability time.Duration

	// Start anchors the stability gate. Defaults to the clock's now.
	Start time.Time

	Log     *slog.Logger
	Metrics *observe.Metrics

	// Clock stamps outgoing fragments. Defaults to time.Now.
	Clock func() time.Time
}

// Session consolidates one hypothesis stream into fragments. It owns the
// consolidation state exclusively; methods are not safe for concurrent use
// because the revision rules depend on observing hypotheses in arrival
// order. Exactly one goroutine drives a session.
type Session struct {
	id      string
	sink    Sink
	dedup   *Deduplicator
	gate    *Gate
	differ  *Differ
	log     *slog.Logger
	metrics *observe.Metrics
	clock   func() time.Time

	pending     string
	hasPending  bool
	lastArrival time.Time
	closeOnce   sync.Once
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.Discard()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Start.IsZero() {
		cfg.Start = cfg.Clock()
	}
	return &Session{
		id:      cfg.ID,
		sink:    cfg.Sink,
		dedup:   cfg.Dedup,
		gate:    NewGate(cfg.Stability, cfg.Start),
		differ:  &Differ{},
		log:     cfg.Log.With(slog.String("session", cfg.ID)),
		metrics: cfg.Metrics,
		clock:   cfg.Clock,
	}
}

// Process consumes one hypothesis. Final hypotheses commit immediately;
// partials commit only when the stability gate opens and are otherwise held
// as pending text and broadcast as a volatile partial record. Hypotheses
// arriving out of order are skipped, never reordered here; ordering is the
// recognizer boundary's job.
func (s *Session) Process(ctx context.Context, hyp hypothesis.Hypothesis) {
	if hyp.Arrival.Before(s.lastArrival) {
		s.log.Warn("hypothesis out of order, skipping",
			slog.Uint64("segment", hyp.SegmentSeq),
			slog.Time("arrival", hyp.Arrival),
			slog.Time("last_arrival", s.lastArrival))
		s.metrics.RecordSkip(ctx, observe.SkipOutOfOrder)
		return
	}
	s.lastArrival = hyp.Arrival
	s.metrics.RecordHypothesis(ctx, hyp.Final)

	cur := hyp.Text
	if s.dedup != nil {
		fresh, dropped := s.dedup.Dedup(hyp.Text)
		if dropped > 0 {
			s.metrics.DedupWordsDropped.Add(ctx, int64(dropped))
		}
		// Overlapping segments each carry their own full span, so the text
		// to diff is everything consolidated so far plus the words that
		// survived deduplication.
		base := s.differ.Last()
		if s.hasPending {
			base = s.pending
		}
		cur = joinText(base, fresh)
	}

	if !hyp.Final && !s.gate.Allow(hyp.Arrival) {
		s.pending = cur
		s.hasPending = true
		s.metrics.GateHolds.Add(ctx, 1)
		if cur != "" {
			s.publish(ctx, protocol.KindPartial, cur, hyp.Confidence)
		}
		return
	}

	s.commit(ctx, cur, hyp.Confidence, hyp.Final)
}

func (s *Session) commit(ctx context.Context, cur string, confidence float64, final bool) {
	fragment, corrected := s.differ.Diff(cur)
	if corrected {
		s.metrics.Corrections.Add(ctx, 1)
		s.log.Debug("hypothesis corrected emitted text", slog.String("text", cur))
	}
	s.pending = ""
	s.hasPending = false

	if fragment == "" {
		return
	}
	kind := protocol.KindConfirmed
	if final {
		kind = protocol.KindFinal
	}
	s.publish(ctx, kind, fragment, confidence)
}

func (s *Session) publish(ctx context.Context, kind, text string, confidence float64) {
	frag := protocol.Fragment{
		SessionID:  s.id,
		Kind:       kind,
		Text:       text,
		Confidence: confidence,
		Timestamp:  s.clock().UTC(),
	}
	if err := s.sink.Emit(ctx, frag); err != nil {
		s.log.Warn("fragment emission failed", slog.String("kind", kind), slog.String("error", err.Error()))
	}
	s.metrics.RecordFragment(ctx, kind)
}

// Close runs the session's single final flush. Pending partial text is
// discarded: when a final hypothesis arrived its result is already emitted,
// and otherwise the emitted state stands as the session transcript. Close
// never emits and never retracts. Safe to call more than once; only the
// first call acts.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.hasPending && s.pending != s.differ.Last() {
			s.log.Debug("discarding unflushed pending text at close",
				slog.Int("chars", len(s.pending)))
		}
		s.pending = ""
		s.hasPending = false
		s.log.Info("session consolidated", slog.Int("transcript_chars", len(s.differ.Last())))
	})
}

// joinText concatenates two text spans with a single space, skipping empty
// sides.
func joinText(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
