package pcm

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV encodes raw PCM into file as 16-bit WAV. The file stays open;
// callers own its lifecycle.
func WriteWAV(file *os.File, data []byte, format Format) error {
	if len(data)%format.BlockAlign() != 0 {
		return fmt.Errorf("pcm payload not aligned to %d-byte blocks", format.BlockAlign())
	}
	samples := make([]int, len(data)/bytesPerSample)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:])))
	}
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(file, format.SampleRate, 16, format.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// DecodeWAV reads a 16-bit WAV stream and returns its raw PCM payload and
// format.
func DecodeWAV(r io.ReadSeeker) ([]byte, Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, Format{}, fmt.Errorf("not a valid wav file")
	}
	if dec.BitDepth != 16 {
		return nil, Format{}, fmt.Errorf("unsupported wav bit depth %d, want 16", dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("decode wav: %w", err)
	}

	format := Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}
	data := make([]byte, len(buf.Data)*bytesPerSample)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(data[i*bytesPerSample:], uint16(int16(sample)))
	}
	return data, format, nil
}
