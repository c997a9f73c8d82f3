// Package audio writes and inspects mono 16-bit PCM WAV streams.
package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	DefaultSampleRate = 16000

	pcmFormat     = 1
	bitsPerSample = 16
)

var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// header is the canonical 44-byte RIFF/WAVE header with one fmt and one data
// chunk.
type header struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// Format describes a decoded WAV header.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataBytes     int64
}

// Duration is the playback length of the data chunk.
func (f Format) Duration() time.Duration {
	frame := int64(f.Channels * f.BitsPerSample / 8)
	if frame <= 0 || f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.DataBytes/frame) * time.Second / time.Duration(f.SampleRate)
}

// WritePCM16 wraps little-endian mono PCM16 samples in a WAV container.
func WritePCM16(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	h := header{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   pcmFormat,
		Channels:      1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * bitsPerSample / 8),
		BlockAlign:    bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	w := bufio.NewWriter(out)
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return w.Flush()
}

// WriteSilence writes d of silence at sampleRate.
func WriteSilence(out io.Writer, d time.Duration, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	samples := int64(d) * int64(sampleRate) / int64(time.Second)
	return WritePCM16(out, make([]byte, samples*bitsPerSample/8), sampleRate)
}

// ReadFormat decodes a canonical WAV header from r.
func ReadFormat(r io.Reader) (Format, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Format{}, ErrNotWAV
		}
		return Format{}, err
	}
	if string(h.RIFF[:]) != "RIFF" || string(h.WAVE[:]) != "WAVE" || string(h.Fmt[:]) != "fmt " {
		return Format{}, ErrNotWAV
	}
	return Format{
		SampleRate:    int(h.SampleRate),
		Channels:      int(h.Channels),
		BitsPerSample: int(h.BitsPerSample),
		DataBytes:     int64(h.DataSize),
	}, nil
}
