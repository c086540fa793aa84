package audio

import "encoding/base64"

// Chunk splits a PCM buffer into frames of frameSize bytes. The final
// partial frame is zero-padded to full size so no audio is dropped at the
// boundary.
func Chunk(pcm []byte, frameSize int) [][]byte {
	if frameSize <= 0 || len(pcm) == 0 {
		return nil
	}

	n := (len(pcm) + frameSize - 1) / frameSize
	frames := make([][]byte, 0, n)

	for i := 0; i < len(pcm); i += frameSize {
		frame := make([]byte, frameSize)
		copy(frame, pcm[i:min(i+frameSize, len(pcm))])
		frames = append(frames, frame)
	}

	return frames
}

// EncodeTransport encodes raw audio bytes for embedding in a text message
// envelope.
func EncodeTransport(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeTransport is the inverse of EncodeTransport.
func DecodeTransport(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, &CodecError{Op: "transport", Reason: err.Error()}
	}
	return data, nil
}
