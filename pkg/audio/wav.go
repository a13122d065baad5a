package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV wraps PCM16 in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm)%bytesPerSample != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	if channels <= 0 {
		channels = 1
	}
	samples := Samples(pcm)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	ws := &memWriteSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, 16, channels, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return ws.buf, nil
}

// DecodeWAV reads a 16-bit WAVE file and returns mono PCM16 and its sample rate.
func DecodeWAV(data []byte) (Decoded, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Decoded{}, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Decoded{}, fmt.Errorf("read wav: %w", err)
	}
	if dec.BitDepth != 16 {
		return Decoded{}, fmt.Errorf("unsupported wav bit depth %d", dec.BitDepth)
	}
	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}
	frames := len(buf.Data) / channels
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += buf.Data[i*channels+c]
		}
		mono[i] = Clamp16(float64(sum) / float64(channels))
	}
	return Decoded{PCM: Bytes(mono), SampleRate: int(dec.SampleRate)}, nil
}

// memWriteSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back to patch sizes.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, end*2)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	m.pos = int(next)
	return next, nil
}
