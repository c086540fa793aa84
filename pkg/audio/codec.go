package audio

import "fmt"

// Encoding identifies the wire format of an audio buffer.
type Encoding int

const (
	// EncodingPCM16 is 16-bit signed little-endian linear PCM.
	EncodingPCM16 Encoding = iota
	// EncodingMuLaw is G.711 μ-law, the 8-bit companded telephony format.
	EncodingMuLaw
	// EncodingALaw is G.711 A-law.
	EncodingALaw
)

func (e Encoding) String() string {
	switch e {
	case EncodingPCM16:
		return "pcm16"
	case EncodingMuLaw:
		return "mulaw"
	case EncodingALaw:
		return "alaw"
	default:
		return "unknown"
	}
}

// CodecError reports malformed or unsupported audio data. Callers drop the
// offending buffer and continue; a codec error never terminates a call.
type CodecError struct {
	Op     string
	Reason string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("audio: %s: %s", e.Op, e.Reason)
}

const (
	muLawBias = 0x84
	muLawClip = 32635
	aLawClip  = 32635
)

// Decode expands 8-bit companded telephony samples to 16-bit signed
// little-endian linear PCM. Implements ITU-T G.711.
func Decode(data []byte, enc Encoding) ([]byte, error) {
	if len(data) == 0 {
		return nil, &CodecError{Op: "decode", Reason: "empty input"}
	}

	switch enc {
	case EncodingMuLaw:
		pcm := make([]int16, len(data))
		for i, b := range data {
			pcm[i] = decodeMuLawSample(b)
		}
		return Bytes(pcm), nil
	case EncodingALaw:
		pcm := make([]int16, len(data))
		for i, b := range data {
			pcm[i] = decodeALawSample(b)
		}
		return Bytes(pcm), nil
	case EncodingPCM16:
		if len(data)%2 != 0 {
			return nil, &CodecError{Op: "decode", Reason: "pcm16 length not a multiple of sample size"}
		}
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	default:
		return nil, &CodecError{Op: "decode", Reason: fmt.Sprintf("unsupported encoding %v", enc)}
	}
}

// Encode compands 16-bit linear PCM into the target telephony format.
// Samples outside the legal range are clipped before companding rather than
// wrapped.
func Encode(pcm []byte, enc Encoding) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, &CodecError{Op: "encode", Reason: "empty input"}
	}
	if len(pcm)%2 != 0 {
		return nil, &CodecError{Op: "encode", Reason: "pcm16 length not a multiple of sample size"}
	}

	switch enc {
	case EncodingMuLaw:
		samples := Samples(pcm)
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = encodeMuLawSample(s)
		}
		return out, nil
	case EncodingALaw:
		samples := Samples(pcm)
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = encodeALawSample(s)
		}
		return out, nil
	case EncodingPCM16:
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out, nil
	default:
		return nil, &CodecError{Op: "encode", Reason: fmt.Sprintf("unsupported encoding %v", enc)}
	}
}

func decodeMuLawSample(mu byte) int16 {
	// μ-law stores samples bit-inverted
	mu = ^mu
	sign := mu & 0x80
	exponent := (mu >> 4) & 0x07
	mantissa := mu & 0x0F

	magnitude := ((int32(mantissa) << 3) + muLawBias) << exponent
	magnitude -= muLawBias

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

func encodeMuLawSample(s int16) byte {
	var sign byte
	v := int32(s)
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); (v&mask) == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}

	mantissa := byte((v >> (exponent + 3)) & 0x0F)
	return ^(sign | (exponent << 4) | mantissa)
}

func decodeALawSample(a byte) int16 {
	a ^= 0x55
	sign := a & 0x80
	exponent := (a >> 4) & 0x07
	mantissa := a & 0x0F

	var magnitude int32
	if exponent == 0 {
		magnitude = (int32(mantissa) << 4) + 8
	} else {
		magnitude = ((int32(mantissa) << 4) + 0x108) << (exponent - 1)
	}

	// after the 0x55 toggle a set sign bit means positive
	if sign == 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

func encodeALawSample(s int16) byte {
	var sign byte = 0x80
	v := int32(s)
	if v < 0 {
		sign = 0
		v = -v - 1
	}
	if v > aLawClip {
		v = aLawClip
	}

	var compressed byte
	if v < 256 {
		compressed = byte(v >> 4)
	} else {
		exponent := byte(7)
		for mask := int32(0x4000); (v&mask) == 0 && exponent > 1; mask >>= 1 {
			exponent--
		}
		mantissa := byte((v >> (exponent + 3)) & 0x0F)
		compressed = (exponent << 4) | mantissa
	}

	return (sign | compressed) ^ 0x55
}

// Samples reinterprets little-endian PCM bytes as int16 samples. A trailing
// odd byte is ignored.
func Samples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// Bytes serializes int16 samples to little-endian PCM bytes.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}
