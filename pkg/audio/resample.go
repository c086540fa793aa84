package audio

import "fmt"

// Resample converts 16-bit little-endian PCM between sample rates using
// linear interpolation. Integer arithmetic only, so identical input always
// produces identical output. Good enough for speech intelligibility; not
// intended for music.
func Resample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, &CodecError{Op: "resample", Reason: fmt.Sprintf("invalid rates %d -> %d", fromRate, toRate)}
	}
	if len(pcm)%2 != 0 {
		return nil, &CodecError{Op: "resample", Reason: "pcm16 length not a multiple of sample size"}
	}
	if fromRate == toRate || len(pcm) == 0 {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out, nil
	}

	in := Samples(pcm)
	outLen := len(in) * toRate / fromRate
	out := make([]int16, outLen)

	for i := range out {
		// position in the source expressed as idx + frac/toRate
		num := i * fromRate
		idx := num / toRate
		frac := int64(num % toRate)

		s0 := int64(in[idx])
		s1 := s0
		if idx+1 < len(in) {
			s1 = int64(in[idx+1])
		}

		out[i] = int16((s0*(int64(toRate)-frac) + s1*frac) / int64(toRate))
	}

	return Bytes(out), nil
}
