// Package pcm provides sample math and WAV helpers for the 16-bit
// little-endian PCM audio that flows through the runtime.
package pcm

import (
	"fmt"
	"time"
)

const bytesPerSample = 2 // 16-bit signed little-endian

// Format describes the shape of a raw PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", f.Channels)
	}
	return nil
}

// BlockAlign is the byte width of one sample frame across all channels.
func (f Format) BlockAlign() int {
	return bytesPerSample * f.Channels
}

func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BlockAlign()
}

// BytesFor converts a duration to a byte count, rounded down to a whole
// sample block so a slice of that length never splits a sample.
func (f Format) BytesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%f.BlockAlign()
}

// Duration reports the play time of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(f.BytesPerSecond()))
}
