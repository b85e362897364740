// Package observe holds the OpenTelemetry metric instruments the
// consolidation pipeline reports to. Instruments are created once against a
// meter provider and shared by every session; the underlying OTel types
// handle their own synchronisation.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/prattlelabs/prattle-core"

// Skip reasons recorded on prattle.hypotheses.skipped.
const (
	SkipRecognizerError = "recognizer_error"
	SkipInvalidText     = "invalid_text"
	SkipOutOfOrder      = "out_of_order"
)

type Metrics struct {
	// SegmentsEmitted counts audio windows produced by the segmenter.
	SegmentsEmitted metric.Int64Counter

	// RecognizeDuration tracks per-segment recognition latency.
	RecognizeDuration metric.Float64Histogram

	// HypothesesProcessed counts hypotheses accepted by the pipeline. Use
	// with attribute.Bool("final", ...).
	HypothesesProcessed metric.Int64Counter

	// HypothesesSkipped counts recoverable drops. Use with
	// attribute.String("reason", ...).
	HypothesesSkipped metric.Int64Counter

	// FragmentsEmitted counts output records. Use with
	// attribute.String("kind", ...).
	FragmentsEmitted metric.Int64Counter

	// DedupWordsDropped counts words removed by overlap deduplication.
	DedupWordsDropped metric.Int64Counter

	// Corrections counts shrink-and-differ hypotheses that reset the
	// emitted context.
	Corrections metric.Int64Counter

	// GateHolds counts partial hypotheses delayed by the stability gate.
	GateHolds metric.Int64Counter

	// SinkFailures counts recoverable output write errors. Use with
	// attribute.String("sink", ...).
	SinkFailures metric.Int64Counter

	// ActiveSessions tracks live consolidation sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets covers the spread between sub-realtime local models and
// slow remote recognizers (seconds).
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every pipeline instrument against mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SegmentsEmitted, err = m.Int64Counter("prattle.segments.emitted",
		metric.WithDescription("Audio windows produced by the segmenter."),
	); err != nil {
		return nil, err
	}
	if met.RecognizeDuration, err = m.Float64Histogram("prattle.recognize.duration",
		metric.WithDescription("Per-segment recognition latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HypothesesProcessed, err = m.Int64Counter("prattle.hypotheses.processed",
		metric.WithDescription("Hypotheses accepted by the consolidation pipeline, by finality."),
	); err != nil {
		return nil, err
	}
	if met.HypothesesSkipped, err = m.Int64Counter("prattle.hypotheses.skipped",
		metric.WithDescription("Hypotheses dropped recoverably, by reason."),
	); err != nil {
		return nil, err
	}
	if met.FragmentsEmitted, err = m.Int64Counter("prattle.fragments.emitted",
		metric.WithDescription("Output records, by kind."),
	); err != nil {
		return nil, err
	}
	if met.DedupWordsDropped, err = m.Int64Counter("prattle.dedup.words_dropped",
		metric.WithDescription("Words removed as overlap duplicates."),
	); err != nil {
		return nil, err
	}
	if met.Corrections, err = m.Int64Counter("prattle.corrections",
		metric.WithDescription("Hypotheses that shrank and reset the emitted context."),
	); err != nil {
		return nil, err
	}
	if met.GateHolds, err = m.Int64Counter("prattle.gate.holds",
		metric.WithDescription("Partial hypotheses delayed by the stability gate."),
	); err != nil {
		return nil, err
	}
	if met.SinkFailures, err = m.Int64Counter("prattle.sink.failures",
		metric.WithDescription("Recoverable output write errors, by sink."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("prattle.active_sessions",
		metric.WithDescription("Live consolidation sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Discard returns metrics bound to a no-op provider, for tests and for
// callers that run without telemetry.
func Discard() *Metrics {
	met, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: no-op provider rejected instruments: " + err.Error())
	}
	return met
}

// RecordFragment increments the fragment counter for one output record.
func (m *Metrics) RecordFragment(ctx context.Context, kind string) {
	m.FragmentsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSkip increments the skipped-hypothesis counter with a reason.
func (m *Metrics) RecordSkip(ctx context.Context, reason string) {
	m.HypothesesSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordHypothesis increments the processed-hypothesis counter.
func (m *Metrics) RecordHypothesis(ctx context.Context, final bool) {
	m.HypothesesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", final)))
}

// RecordRecognition records one segment recognition round trip.
func (m *Metrics) RecordRecognition(ctx context.Context, d time.Duration, ok bool) {
	m.RecognizeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("ok", ok)))
}

// RecordSinkFailure increments the sink failure counter for one sink.
func (m *Metrics) RecordSinkFailure(ctx context.Context, sink string) {
	m.SinkFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}
