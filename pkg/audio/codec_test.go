package audio

import (
	"bytes"
	"testing"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	for _, enc := range []Encoding{EncodingMuLaw, EncodingALaw} {
		t.Run(enc.String(), func(t *testing.T) {
			companded := make([]byte, 256)
			for i := range companded {
				companded[i] = byte(i)
			}

			pcm, err := Decode(companded, enc)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			reEncoded, err := Encode(pcm, enc)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			rePcm, err := Decode(reEncoded, enc)
			if err != nil {
				t.Fatalf("Decode() second pass error = %v", err)
			}

			// companding is lossy but stable: one round trip must be a
			// fixed point of the quantizer
			if !bytes.Equal(pcm, rePcm) {
				t.Errorf("round-tripped samples differ from original decode")
			}
		})
	}
}

func TestEncodeQuantizationBound(t *testing.T) {
	// every sample must survive encode/decode within one quantization step
	for _, enc := range []Encoding{EncodingMuLaw, EncodingALaw} {
		t.Run(enc.String(), func(t *testing.T) {
			for s := -32768; s <= 32767; s += 17 {
				in := Bytes([]int16{int16(s)})
				companded, err := Encode(in, enc)
				if err != nil {
					t.Fatalf("Encode(%d) error = %v", s, err)
				}
				out, err := Decode(companded, enc)
				if err != nil {
					t.Fatalf("Decode error = %v", err)
				}
				got := int(Samples(out)[0])

				diff := got - s
				if diff < 0 {
					diff = -diff
				}
				// largest G.711 segment step is 1024 (values near clip
				// collapse onto the top code)
				if diff > 1024 {
					t.Fatalf("sample %d round-tripped to %d, diff %d exceeds one quantization step", s, got, diff)
				}
			}
		})
	}
}

func TestEncodeClipsInsteadOfWrapping(t *testing.T) {
	in := Bytes([]int16{32767, -32768})
	companded, err := Encode(in, EncodingMuLaw)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	out, err := Decode(companded, EncodingMuLaw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	samples := Samples(out)
	if samples[0] <= 0 {
		t.Errorf("positive extreme decoded to %d, want positive", samples[0])
	}
	if samples[1] >= 0 {
		t.Errorf("negative extreme decoded to %d, want negative", samples[1])
	}
}

func TestDecodeMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		fn   func() error
	}{
		{"decode empty", func() error { _, err := Decode(nil, EncodingMuLaw); return err }},
		{"decode odd pcm", func() error { _, err := Decode([]byte{1, 2, 3}, EncodingPCM16); return err }},
		{"encode odd pcm", func() error { _, err := Encode([]byte{1, 2, 3}, EncodingMuLaw); return err }},
		{"encode empty", func() error { _, err := Encode(nil, EncodingALaw); return err }},
		{"resample odd pcm", func() error { _, err := Resample([]byte{1}, 8000, 16000); return err }},
		{"resample bad rate", func() error { _, err := Resample([]byte{1, 2}, 0, 16000); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if _, ok := err.(*CodecError); !ok {
				t.Errorf("error type = %T, want *CodecError", err)
			}
		})
	}
}

func TestChunkReassembly(t *testing.T) {
	pcm := make([]byte, 1000)
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}

	frames := Chunk(pcm, 320)
	if len(frames) != 4 {
		t.Fatalf("Chunk() returned %d frames, want 4", len(frames))
	}

	var joined []byte
	for _, f := range frames {
		if len(f) != 320 {
			t.Fatalf("frame length = %d, want 320", len(f))
		}
		joined = append(joined, f...)
	}

	if !bytes.Equal(joined[:len(pcm)], pcm) {
		t.Error("concatenated frames do not reproduce original samples")
	}
	for _, b := range joined[len(pcm):] {
		if b != 0 {
			t.Error("final frame padding is not zero")
			break
		}
	}
}

func TestResample(t *testing.T) {
	pcm := Bytes([]int16{0, 100, 200, 300, 400, 500, 600, 700})

	up, err := Resample(pcm, 8000, 16000)
	if err != nil {
		t.Fatalf("Resample() error = %v", err)
	}
	if len(up) != len(pcm)*2 {
		t.Errorf("upsampled length = %d, want %d", len(up), len(pcm)*2)
	}

	down, err := Resample(pcm, 16000, 8000)
	if err != nil {
		t.Fatalf("Resample() error = %v", err)
	}
	if len(down) != len(pcm)/2 {
		t.Errorf("downsampled length = %d, want %d", len(down), len(pcm)/2)
	}

	// deterministic: same input, same bytes
	again, err := Resample(pcm, 8000, 16000)
	if err != nil {
		t.Fatalf("Resample() error = %v", err)
	}
	if !bytes.Equal(up, again) {
		t.Error("resampling the same input produced different output")
	}

	same, err := Resample(pcm, 8000, 8000)
	if err != nil {
		t.Fatalf("Resample() error = %v", err)
	}
	if !bytes.Equal(same, pcm) {
		t.Error("identity resample changed samples")
	}
}

func TestTransportEncoding(t *testing.T) {
	raw := []byte{0x00, 0xFF, 0x7F, 0x80, 0x01}
	text := EncodeTransport(raw)
	back, err := DecodeTransport(text)
	if err != nil {
		t.Fatalf("DecodeTransport() error = %v", err)
	}
	if !bytes.Equal(back, raw) {
		t.Error("transport round trip mismatch")
	}

	if _, err := DecodeTransport("not*base64!"); err == nil {
		t.Error("expected error for invalid transport text")
	}
}

func TestEncodeWAV(t *testing.T) {
	pcm := Bytes([]int16{1, 2, 3, 4})
	wav := EncodeWAV(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Error("wav payload differs from input pcm")
	}
}
