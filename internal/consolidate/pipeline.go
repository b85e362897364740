package consolidate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prattlelabs/prattle-core/internal/hypothesis"
	"github.com/prattlelabs/prattle-core/internal/observe"
	"github.com/prattlelabs/prattle-core/internal/recognizer"
)

// Pipeline pulls recognizer results one at a time, normalizes them, and
// feeds the session. It is the single writer of the session's state, so
// hypothesis processing is strictly sequential even when the recognizer
// produces results from many workers.
type Pipeline struct {
	session *Session
	norm    hypothesis.Normalizer
	log     *slog.Logger
	metrics *observe.Metrics
}

func NewPipeline(session *Session, norm hypothesis.Normalizer, log *slog.Logger, metrics *observe.Metrics) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.Discard()
	}
	return &Pipeline{session: session, norm: norm, log: log, metrics: metrics}
}

// Run consumes results until the channel closes or ctx is done, then closes
// the session exactly once. Per-result failures are recoverable: the
// offending hypothesis is logged, counted, and skipped, and the session
// continues untouched.
func (p *Pipeline) Run(ctx context.Context, results <-chan recognizer.Result) error {
	defer p.session.Close()

	for {
		select {
		case res, ok := <-results:
			if !ok {
				return nil
			}
			hyp, err := p.norm.Normalize(res)
			if err != nil {
				reason := observe.SkipRecognizerError
				if errors.Is(err, hypothesis.ErrNotText) {
					reason = observe.SkipInvalidText
				}
				p.metrics.RecordSkip(ctx, reason)
				p.log.Warn("hypothesis dropped",
					slog.String("reason", reason),
					slog.String("error", err.Error()))
				continue
			}
			p.session.Process(ctx, hyp)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
