package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/prattlelabs/prattle-core/internal/protocol"
)

// Writer appends fragment text to an io.Writer, typically standard output.
// Committed fragments are always written; volatile partial records only when
// interim output is enabled. A mutex serializes writes because sessions
// share the writer.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	newline bool
	interim bool
}

// NewWriter wraps w. newline appends a line terminator after every
// fragment; interim additionally surfaces volatile partial snapshots.
func NewWriter(w io.Writer, newline, interim bool) *Writer {
	return &Writer{w: w, newline: newline, interim: interim}
}

func (s *Writer) Emit(_ context.Context, frag protocol.Fragment) error {
	if !frag.Committed() && !s.interim {
		return nil
	}
	text := frag.Text
	if s.newline {
		text += "\n"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, text); err != nil {
		return fmt.Errorf("write fragment: %w", err)
	}
	return nil
}

func (s *Writer) Close(context.Context) error {
	return nil
}
