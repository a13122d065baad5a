package audio

import "github.com/zaf/g711"

// MuLawSilence is the mu-law code for a zero sample.
const MuLawSilence byte = 0xFF

// DecodeMuLaw expands 8-bit mu-law to little-endian PCM16.
func DecodeMuLaw(ulaw []byte) []byte {
	if len(ulaw) == 0 {
		return []byte{}
	}
	return g711.DecodeUlaw(ulaw)
}

// EncodeMuLaw compresses little-endian PCM16 to 8-bit mu-law.
func EncodeMuLaw(pcm []byte) []byte {
	if len(pcm) < bytesPerSample {
		return []byte{}
	}
	return g711.EncodeUlaw(pcm[:len(pcm)-len(pcm)%bytesPerSample])
}

// SliceFrames cuts data into frames of exactly size bytes, padding the tail with pad.
func SliceFrames(data []byte, size int, pad byte) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		frame := make([]byte, size)
		n := copy(frame, data[start:])
		for i := n; i < size; i++ {
			frame[i] = pad
		}
		out = append(out, frame)
	}
	return out
}
