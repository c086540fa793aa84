package vad

import "go.uber.org/zap"

// EventType distinguishes turn boundary events.
type EventType int

const (
	SpeechStart EventType = iota
	SpeechEnd
)

func (t EventType) String() string {
	if t == SpeechStart {
		return "speech_start"
	}
	return "speech_end"
}

// Event marks a turn boundary. Frame is the index (since the last Reset) of
// the frame whose classification crossed the duration threshold.
type Event struct {
	Type       EventType
	Frame      int
	Confidence float64
}

// Detector applies temporal smoothing over a Classifier. A speech-start
// fires only after MinSpeechFrames consecutive speech frames, so a single
// loud click does not open an utterance. A speech-end fires only after
// MinSilenceFrames consecutive silence frames (the hangover), so a
// mid-sentence pause does not cut the caller off.
//
// Not safe for concurrent use; each session owns its own Detector.
type Detector struct {
	classifier Classifier
	log        *zap.Logger

	minSpeechFrames  int
	minSilenceFrames int

	frames     int
	speechRun  int
	silenceRun int
	inSpeech   bool
}

// NewDetector wraps a resolved classifier with the configured duration
// thresholds.
func NewDetector(classifier Classifier, cfg Config, log *zap.Logger) *Detector {
	minSpeech := cfg.MinSpeechFrames
	if minSpeech <= 0 {
		minSpeech = DefaultConfig().MinSpeechFrames
	}
	minSilence := cfg.MinSilenceFrames
	if minSilence <= 0 {
		minSilence = DefaultConfig().MinSilenceFrames
	}

	return &Detector{
		classifier:       classifier,
		log:              log,
		minSpeechFrames:  minSpeech,
		minSilenceFrames: minSilence,
	}
}

// Classifier exposes the active strategy so the codec stage can match its
// frame contract.
func (d *Detector) Classifier() Classifier { return d.classifier }

// Active reports whether the detector is currently inside an utterance.
func (d *Detector) Active() bool { return d.inSpeech }

// Feed classifies one frame and returns a boundary event when a duration
// threshold is crossed, or nil. A classification failure on a single frame
// degrades to silence: a false negative is recoverable, an aborted call is
// not.
func (d *Detector) Feed(frame []int16) *Event {
	d.frames++

	c, err := d.classifier.Classify(frame)
	if err != nil {
		d.log.Debug("VAD classification failed, treating frame as silence",
			zap.String("strategy", d.classifier.Name()),
			zap.Error(err),
		)
		c = Classification{IsSpeech: false}
	}

	if c.IsSpeech {
		d.speechRun++
		d.silenceRun = 0

		if !d.inSpeech && d.speechRun >= d.minSpeechFrames {
			d.inSpeech = true
			return &Event{Type: SpeechStart, Frame: d.frames, Confidence: c.Confidence}
		}
		return nil
	}

	d.silenceRun++
	d.speechRun = 0

	if d.inSpeech && d.silenceRun >= d.minSilenceFrames {
		d.inSpeech = false
		return &Event{Type: SpeechEnd, Frame: d.frames, Confidence: c.Confidence}
	}
	return nil
}

// Reset clears run counters at the start of a listening turn so history
// from the previous utterance cannot bias the next one.
func (d *Detector) Reset() {
	d.frames = 0
	d.speechRun = 0
	d.silenceRun = 0
	d.inSpeech = false
}
