package recognizer

import (
	"context"
	"fmt"
	"sync"

	"github.com/prattlelabs/prattle-core/internal/segment"
)

// mockRecognizer synthesizes one final hypothesis per segment. It exists so
// the full pipeline can run without a real recognizer installed.
type mockRecognizer struct{}

var _ Recognizer = (*mockRecognizer)(nil)

func NewMock() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Open(_ context.Context, _ StreamConfig) (Session, error) {
	return &mockSession{results: make(chan Result, 16)}, nil
}

type mockSession struct {
	results   chan Result
	closeOnce sync.Once
}

func (s *mockSession) SendSegment(ctx context.Context, seg segment.Segment) error {
	res := Result{
		Text:       fmt.Sprintf("[segment %d %dms]", seg.Seq, seg.Duration.Milliseconds()),
		Confidence: 1,
		Final:      true,
		SegmentSeq: seg.Seq,
	}
	select {
	case s.results <- res:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *mockSession) Results() <-chan Result {
	return s.results
}

func (s *mockSession) Close() error {
	s.closeOnce.Do(func() { close(s.results) })
	return nil
}
