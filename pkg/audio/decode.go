package audio

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// Container names understood by Decode.
const (
	ContainerMP3   = "mp3"
	ContainerPCM   = "pcm"
	ContainerWAV   = "wav"
	ContainerMuLaw = "mulaw"
)

// Decoded is mono PCM16 at SampleRate.
type Decoded struct {
	PCM        []byte
	SampleRate int
}

// Decode turns synthesized audio in the given container into mono PCM16.
// sampleRate is only consulted for headerless containers.
func Decode(data []byte, container string, sampleRate int) (Decoded, error) {
	switch strings.ToLower(container) {
	case ContainerMP3:
		return DecodeMP3(data)
	case ContainerWAV:
		return DecodeWAV(data)
	case ContainerPCM:
		if sampleRate <= 0 {
			return Decoded{}, fmt.Errorf("pcm container requires a sample rate")
		}
		n := len(data) - len(data)%bytesPerSample
		return Decoded{PCM: append([]byte(nil), data[:n]...), SampleRate: sampleRate}, nil
	case ContainerMuLaw:
		if sampleRate <= 0 {
			sampleRate = 8000
		}
		return Decoded{PCM: DecodeMuLaw(data), SampleRate: sampleRate}, nil
	default:
		return Decoded{}, fmt.Errorf("unsupported audio container %q", container)
	}
}

// DecodeMP3 decodes an MP3 stream and downmixes it to mono.
func DecodeMP3(data []byte) (Decoded, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Decoded{}, fmt.Errorf("open mp3: %w", err)
	}
	stereo, err := io.ReadAll(dec)
	if err != nil {
		return Decoded{}, fmt.Errorf("read mp3: %w", err)
	}
	// go-mp3 always yields interleaved 16-bit stereo.
	in := Samples(stereo)
	mono := make([]int16, len(in)/2)
	for i := range mono {
		mono[i] = int16((int32(in[2*i]) + int32(in[2*i+1])) / 2)
	}
	return Decoded{PCM: Bytes(mono), SampleRate: dec.SampleRate()}, nil
}
