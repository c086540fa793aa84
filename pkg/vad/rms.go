package vad

// rmsClassifier flags frames whose RMS level crosses a fixed threshold.
// The simplest strategy and the final fallback: it cannot fail to
// initialize and has no warm-up.
type rmsClassifier struct {
	cut        float64
	sampleRate int
	frameSize  int
}

func newRMSClassifier(cfg Config) (Classifier, error) {
	// map the [0,1] sensitivity onto a usable RMS band; 0.5 lands on
	// 0.015, a workable level for 16kHz telephony speech
	cut := 0.005 + cfg.Threshold*0.02
	return &rmsClassifier{
		cut:        cut,
		sampleRate: cfg.SampleRate,
		frameSize:  cfg.FrameSize,
	}, nil
}

func (c *rmsClassifier) Name() string    { return StrategyRMS }
func (c *rmsClassifier) SampleRate() int { return c.sampleRate }
func (c *rmsClassifier) FrameSize() int  { return c.frameSize }

func (c *rmsClassifier) Classify(frame []int16) (Classification, error) {
	if len(frame) == 0 {
		return Classification{IsSpeech: false, Confidence: 0}, nil
	}
	level := rms(frame)
	if level >= c.cut {
		return Classification{IsSpeech: true, Confidence: 1.0}, nil
	}
	return Classification{IsSpeech: false, Confidence: 0.0}, nil
}
