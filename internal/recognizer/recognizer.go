// Package recognizer is the boundary to external speech recognizers. A
// Recognizer opens one Session per audio stream; the session consumes audio
// segments and produces recognition hypotheses. Acoustic and language
// modelling stay on the other side of this boundary.
package recognizer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prattlelabs/prattle-core/internal/config"
	"github.com/prattlelabs/prattle-core/internal/observe"
	"github.com/prattlelabs/prattle-core/internal/pcm"
	"github.com/prattlelabs/prattle-core/internal/segment"
)

// Result is one recognition hypothesis. A non-nil Err marks a failed
// contribution for that segment; the stream itself continues.
type Result struct {
	Text       string
	Confidence float64
	Final      bool
	SegmentSeq uint64
	Err        error
}

// StreamConfig describes the audio a session will receive.
type StreamConfig struct {
	Format   pcm.Format
	Language string
}

// Session is one recognition stream. SendSegment may block for
// backpressure and must not be called after Close. Results delivers
// hypotheses in non-decreasing segment order; Close flushes pending
// segments and then closes Results, so consumers must keep draining the
// channel while Close runs.
type Session interface {
	SendSegment(ctx context.Context, seg segment.Segment) error
	Results() <-chan Result
	Close() error
}

// Recognizer opens recognition sessions.
type Recognizer interface {
	Open(ctx context.Context, stream StreamConfig) (Session, error)
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.RecognizerConfig, log *slog.Logger, metrics *observe.Metrics) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMock(), nil
	case "exec":
		return NewExec(cfg, log, metrics)
	case "websocket":
		return NewWebSocket(cfg, log)
	default:
		return nil, fmt.Errorf("unknown recognizer mode %q", cfg.Mode)
	}
}
