package vad

import "fmt"

// zeroCrossingClassifier is a rule-based strategy combining RMS energy with
// the zero-crossing rate. Voiced speech carries energy at a moderate
// crossing rate; hiss and static cross far more often, hum far less. The
// ZCR gate rejects both without any adaptation period.
type zeroCrossingClassifier struct {
	energyCut  float64
	zcrLow     float64
	zcrHigh    float64
	sampleRate int
	frameSize  int
}

func newZeroCrossingClassifier(cfg Config) (Classifier, error) {
	if cfg.FrameSize < 2 {
		return nil, fmt.Errorf("zcr: frame size %d too small for crossing analysis", cfg.FrameSize)
	}
	return &zeroCrossingClassifier{
		energyCut:  0.005 + cfg.Threshold*0.02,
		zcrLow:     0.02,
		zcrHigh:    0.35,
		sampleRate: cfg.SampleRate,
		frameSize:  cfg.FrameSize,
	}, nil
}

func (c *zeroCrossingClassifier) Name() string    { return StrategyZeroCrossing }
func (c *zeroCrossingClassifier) SampleRate() int { return c.sampleRate }
func (c *zeroCrossingClassifier) FrameSize() int  { return c.frameSize }

func (c *zeroCrossingClassifier) Classify(frame []int16) (Classification, error) {
	if len(frame) < 2 {
		return Classification{}, fmt.Errorf("zcr: frame too short")
	}

	level := rms(frame)
	if level < c.energyCut {
		return Classification{IsSpeech: false, Confidence: 0.0}, nil
	}

	crossings := 0
	for i := 1; i < len(frame); i++ {
		if (frame[i-1] >= 0) != (frame[i] >= 0) {
			crossings++
		}
	}
	rate := float64(crossings) / float64(len(frame)-1)

	if rate < c.zcrLow || rate > c.zcrHigh {
		return Classification{IsSpeech: false, Confidence: 0.25}, nil
	}
	return Classification{IsSpeech: true, Confidence: 0.75}, nil
}
