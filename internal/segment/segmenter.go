// Package segment cuts a continuous PCM byte stream into fixed-length
// windows with a configurable overlap between consecutive windows.
package segment

import (
	"fmt"
	"time"

	"github.com/prattlelabs/prattle-core/internal/pcm"
)

// Segment is one window of audio cut from the input stream. PCM is an owned
// copy and is never mutated after emission.
type Segment struct {
	Seq      uint64
	Start    time.Duration
	Duration time.Duration
	Overlap  time.Duration
	PCM      []byte
}

// Segmenter slices a PCM stream into windows of length L that advance by
// S = L - O, so consecutive windows share O of audio. Methods are not safe
// for concurrent use; each stream owns its segmenter.
type Segmenter struct {
	format      pcm.Format
	window      time.Duration
	overlap     time.Duration
	windowBytes int
	stepBytes   int
	buf         []byte
	seq         uint64
}

// New validates the window geometry and returns a segmenter. The overlap
// must be non-negative and strictly shorter than the window.
func New(format pcm.Format, window, overlap time.Duration) (*Segmenter, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("segmenter: %w", err)
	}
	if window <= 0 {
		return nil, fmt.Errorf("segmenter: window must be positive, got %v", window)
	}
	if overlap < 0 || overlap >= window {
		return nil, fmt.Errorf("segmenter: overlap %v must be in [0s, %v)", overlap, window)
	}
	windowBytes := format.BytesFor(window)
	stepBytes := windowBytes - format.BytesFor(overlap)
	if windowBytes == 0 || stepBytes <= 0 {
		return nil, fmt.Errorf("segmenter: window %v too short for %d Hz audio", window, format.SampleRate)
	}
	return &Segmenter{
		format:      format,
		window:      window,
		overlap:     overlap,
		windowBytes: windowBytes,
		stepBytes:   stepBytes,
	}, nil
}

// Push appends audio to the buffer and returns every full window it
// completes, oldest first. Input chunks may be any size; window boundaries
// always land on whole sample blocks.
func (s *Segmenter) Push(p []byte) []Segment {
	s.buf = append(s.buf, p...)
	var out []Segment
	for len(s.buf) >= s.windowBytes {
		out = append(out, s.cut(s.windowBytes))
		s.buf = append(s.buf[:0], s.buf[s.stepBytes:]...)
	}
	return out
}

// Flush ends the stream: a remainder of at least half a window becomes one
// final short segment, anything less is discarded. The buffer is empty
// afterwards either way.
func (s *Segmenter) Flush() (Segment, bool) {
	rem := len(s.buf) - len(s.buf)%s.format.BlockAlign()
	if rem == 0 || rem*2 < s.windowBytes {
		s.buf = s.buf[:0]
		return Segment{}, false
	}
	seg := s.cut(rem)
	s.buf = s.buf[:0]
	return seg, true
}

func (s *Segmenter) cut(n int) Segment {
	data := make([]byte, n)
	copy(data, s.buf[:n])
	seg := Segment{
		Seq:      s.seq,
		Start:    s.format.Duration(int(s.seq) * s.stepBytes),
		Duration: s.format.Duration(n),
		PCM:      data,
	}
	if s.seq > 0 {
		seg.Overlap = s.overlap
	}
	s.seq++
	return seg
}
