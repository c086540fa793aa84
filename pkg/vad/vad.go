// Package vad turns a stream of fixed-size PCM frames into discrete
// speech-start and speech-end events. Classification strategies are
// interchangeable behind the Classifier interface; the Detector applies
// temporal smoothing on top of whichever strategy is active.
package vad

import (
	"fmt"

	"go.uber.org/zap"
)

// Classification is the per-frame decision of a Classifier.
type Classification struct {
	IsSpeech   bool
	Confidence float64
}

// Classifier is the atomic per-frame speech/non-speech decision. All
// strategies share this contract so callers never special-case the active
// one. Each strategy declares the frame size and sample rate it expects;
// the codec stage is configured to match.
type Classifier interface {
	Classify(frame []int16) (Classification, error)
	Name() string
	SampleRate() int
	FrameSize() int
}

// Config selects and tunes a detection strategy chain.
type Config struct {
	// Strategies is the ordered fallback list. A strategy that fails to
	// initialize falls through to the next; detection availability takes
	// priority over detection sophistication.
	Strategies []string

	// Threshold is the detection sensitivity in [0,1].
	Threshold float64

	SampleRate int
	FrameSize  int

	MinSpeechFrames  int
	MinSilenceFrames int
}

// DefaultConfig returns the tuning used for 16kHz 20ms telephony frames:
// roughly 250ms of speech to open a turn and 500ms of hangover to close it.
func DefaultConfig() Config {
	return Config{
		Strategies:       []string{StrategyAdaptive, StrategyZeroCrossing, StrategyRMS},
		Threshold:        0.5,
		SampleRate:       16000,
		FrameSize:        320,
		MinSpeechFrames:  12,
		MinSilenceFrames: 25,
	}
}

const (
	StrategyAdaptive     = "adaptive"
	StrategyZeroCrossing = "zcr"
	StrategyRMS          = "rms"
)

// NewClassifier constructs a single strategy by name.
func NewClassifier(name string, cfg Config) (Classifier, error) {
	switch name {
	case StrategyAdaptive:
		return newAdaptiveClassifier(cfg)
	case StrategyZeroCrossing:
		return newZeroCrossingClassifier(cfg)
	case StrategyRMS:
		return newRMSClassifier(cfg)
	default:
		return nil, fmt.Errorf("unknown vad strategy: %s", name)
	}
}

// Resolve walks the configured fallback list and returns the first strategy
// that initializes. Resolution happens once, at session creation. The RMS
// strategy has no failure mode, so the chain always terminates with a
// working classifier.
func Resolve(cfg Config, log *zap.Logger) Classifier {
	strategies := cfg.Strategies
	if len(strategies) == 0 {
		strategies = DefaultConfig().Strategies
	}

	for _, name := range strategies {
		c, err := NewClassifier(name, cfg)
		if err != nil {
			log.Warn("VAD strategy unavailable, falling back",
				zap.String("strategy", name),
				zap.Error(err),
			)
			continue
		}
		log.Info("VAD strategy selected",
			zap.String("strategy", c.Name()),
			zap.Int("sample_rate", c.SampleRate()),
			zap.Int("frame_size", c.FrameSize()),
		)
		return c
	}

	c, _ := newRMSClassifier(cfg)
	log.Warn("no configured VAD strategy available, using rms")
	return c
}
