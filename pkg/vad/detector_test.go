package vad

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

// scriptedClassifier replays a fixed speech/silence script, one entry per
// frame.
type scriptedClassifier struct {
	script []bool
	errAt  map[int]bool
	pos    int
}

func (s *scriptedClassifier) Classify(frame []int16) (Classification, error) {
	i := s.pos
	s.pos++
	if s.errAt[i] {
		return Classification{}, errors.New("scripted failure")
	}
	if i < len(s.script) && s.script[i] {
		return Classification{IsSpeech: true, Confidence: 1}, nil
	}
	return Classification{IsSpeech: false}, nil
}

func (s *scriptedClassifier) Name() string    { return "scripted" }
func (s *scriptedClassifier) SampleRate() int { return 16000 }
func (s *scriptedClassifier) FrameSize() int  { return 320 }

func run(t *testing.T, d *Detector, frames int) []Event {
	t.Helper()
	var events []Event
	frame := make([]int16, 320)
	for i := 0; i < frames; i++ {
		if ev := d.Feed(frame); ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}

func script(runs ...struct {
	speech bool
	n      int
}) []bool {
	var out []bool
	for _, r := range runs {
		for i := 0; i < r.n; i++ {
			out = append(out, r.speech)
		}
	}
	return out
}

type rn = struct {
	speech bool
	n      int
}

func TestDetectorTurnBoundaries(t *testing.T) {
	// 200ms silence, 400ms speech, 600ms silence at 20ms frames
	sc := &scriptedClassifier{script: script(rn{false, 10}, rn{true, 20}, rn{false, 30})}
	d := NewDetector(sc, Config{MinSpeechFrames: 12, MinSilenceFrames: 25}, zap.NewNop())

	events := run(t, d, 60)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}

	if events[0].Type != SpeechStart {
		t.Errorf("first event = %v, want speech_start", events[0].Type)
	}
	// frame 12 of the speech run, i.e. absolute frame 22
	if events[0].Frame != 22 {
		t.Errorf("speech_start at frame %d, want 22", events[0].Frame)
	}

	if events[1].Type != SpeechEnd {
		t.Errorf("second event = %v, want speech_end", events[1].Type)
	}
	// frame 25 of the trailing silence run, i.e. absolute frame 55
	if events[1].Frame != 55 {
		t.Errorf("speech_end at frame %d, want 55", events[1].Frame)
	}
}

func TestDetectorIgnoresShortBursts(t *testing.T) {
	// 11 speech frames with MinSpeechFrames=12 must never open a turn
	sc := &scriptedClassifier{script: script(rn{true, 11}, rn{false, 40})}
	d := NewDetector(sc, Config{MinSpeechFrames: 12, MinSilenceFrames: 25}, zap.NewNop())

	if events := run(t, d, 51); len(events) != 0 {
		t.Fatalf("got %d events, want none: %+v", len(events), events)
	}
}

func TestDetectorHangoverSurvivesPauses(t *testing.T) {
	// a 10-frame pause inside an utterance must not end it when
	// MinSilenceFrames is 25
	sc := &scriptedClassifier{script: script(rn{true, 15}, rn{false, 10}, rn{true, 15}, rn{false, 25})}
	d := NewDetector(sc, Config{MinSpeechFrames: 12, MinSilenceFrames: 25}, zap.NewNop())

	events := run(t, d, 65)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].Type != SpeechStart || events[1].Type != SpeechEnd {
		t.Fatalf("events = %+v, want start then end", events)
	}
}

func TestDetectorErrorDegradesToSilence(t *testing.T) {
	// a classification failure mid-run behaves like a silence frame and
	// breaks the consecutive speech count
	sc := &scriptedClassifier{
		script: script(rn{true, 30}),
		errAt:  map[int]bool{5: true},
	}
	d := NewDetector(sc, Config{MinSpeechFrames: 12, MinSilenceFrames: 25}, zap.NewNop())

	events := run(t, d, 30)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(events), events)
	}
	// run restarts after the failed frame: 12 consecutive frames from
	// index 6 puts the boundary at absolute frame 18
	if events[0].Type != SpeechStart || events[0].Frame != 18 {
		t.Errorf("event = %+v, want speech_start at frame 18", events[0])
	}
}

func TestDetectorReset(t *testing.T) {
	sc := &scriptedClassifier{script: script(rn{true, 11}, rn{true, 30})}
	d := NewDetector(sc, Config{MinSpeechFrames: 12, MinSilenceFrames: 25}, zap.NewNop())

	run(t, d, 11)
	d.Reset()

	events := run(t, d, 30)
	if len(events) != 1 || events[0].Frame != 12 {
		t.Fatalf("after reset got %+v, want single speech_start at frame 12", events)
	}
	if !d.Active() {
		t.Error("detector should be inside an utterance")
	}
	d.Reset()
	if d.Active() {
		t.Error("reset should clear the in-speech flag")
	}
}
