package audio

import "fmt"

// ResamplePCM16 converts mono PCM16 between sample rates using linear interpolation.
func ResamplePCM16(input []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}
	if len(input)%bytesPerSample != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d bytes per sample", len(input), bytesPerSample)
	}
	if fromRate == toRate {
		return append([]byte(nil), input...), nil
	}

	in := Samples(input)
	if len(in) == 0 {
		return []byte{}, nil
	}
	outLen := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		return []byte{}, nil
	}

	out := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(idx)
		s0 := float64(in[idx])
		s1 := float64(in[idx+1])
		out[i] = Clamp16(s0 + frac*(s1-s0))
	}
	return Bytes(out), nil
}
