// Package sink delivers consolidated transcript fragments to their
// consumers: a terminal or pipe, the message bus, and the transcript store.
// Every sink is append-only; emitted text is never rewritten or retracted.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/prattlelabs/prattle-core/internal/observe"
	"github.com/prattlelabs/prattle-core/internal/protocol"
)

// Sink consumes emitted fragments. Emit must tolerate concurrent calls from
// different sessions. A failing Emit is a recoverable event for the caller;
// it must never corrupt the sink for later fragments.
type Sink interface {
	Emit(ctx context.Context, frag protocol.Fragment) error
	Close(ctx context.Context) error
}

type namedSink struct {
	name string
	sink Sink
}

// Multi fans fragments out to every attached sink. One failing sink never
// blocks the others; failures are counted per sink and joined into the
// returned error.
type Multi struct {
	metrics *observe.Metrics
	sinks   []namedSink
}

func NewMulti(metrics *observe.Metrics) *Multi {
	if metrics == nil {
		metrics = observe.Discard()
	}
	return &Multi{metrics: metrics}
}

// Add attaches a sink under a stable name used in failure metrics and
// errors.
func (m *Multi) Add(name string, s Sink) {
	m.sinks = append(m.sinks, namedSink{name: name, sink: s})
}

// Len reports how many sinks are attached.
func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Emit(ctx context.Context, frag protocol.Fragment) error {
	var errs []error
	for _, ns := range m.sinks {
		if err := ns.sink.Emit(ctx, frag); err != nil {
			m.metrics.RecordSinkFailure(ctx, ns.name)
			errs = append(errs, fmt.Errorf("%s: %w", ns.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the attached sinks in reverse attachment order.
func (m *Multi) Close(ctx context.Context) error {
	var errs []error
	for i := len(m.sinks) - 1; i >= 0; i-- {
		ns := m.sinks[i]
		if err := ns.sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ns.name, err))
		}
	}
	return errors.Join(errs...)
}
