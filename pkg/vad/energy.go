package vad

import (
	"fmt"
	"math"
	"sort"
)

const energyHistorySize = 50

// adaptiveClassifier tracks a rolling noise-floor baseline and flags frames
// whose RMS energy rises above baseline plus a sensitivity-scaled share of
// the observed dynamic range. It adapts to line noise without tuning, at the
// cost of a short warm-up window.
type adaptiveClassifier struct {
	threshold  float64
	sampleRate int
	frameSize  int

	history []float64
}

func newAdaptiveClassifier(cfg Config) (Classifier, error) {
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("adaptive: threshold %v out of range [0,1]", cfg.Threshold)
	}
	return &adaptiveClassifier{
		threshold:  cfg.Threshold,
		sampleRate: cfg.SampleRate,
		frameSize:  cfg.FrameSize,
		history:    make([]float64, 0, energyHistorySize),
	}, nil
}

func (c *adaptiveClassifier) Name() string    { return StrategyAdaptive }
func (c *adaptiveClassifier) SampleRate() int { return c.sampleRate }
func (c *adaptiveClassifier) FrameSize() int  { return c.frameSize }

func (c *adaptiveClassifier) Classify(frame []int16) (Classification, error) {
	if len(frame) == 0 {
		return Classification{}, fmt.Errorf("adaptive: empty frame")
	}

	level := rms(frame)

	c.history = append(c.history, level)
	if len(c.history) > energyHistorySize {
		c.history = c.history[1:]
	}

	// fixed floor until enough history exists to estimate the baseline
	cut := 0.01
	if len(c.history) >= 10 {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, e := range c.history {
			lo = math.Min(lo, e)
			hi = math.Max(hi, e)
		}
		cut = median(c.history) + c.threshold*(hi-lo)
	}

	if level > cut {
		return Classification{IsSpeech: true, Confidence: 1.0}, nil
	}
	return Classification{IsSpeech: false, Confidence: 0.0}, nil
}

// rms returns the root-mean-square level of a frame normalized to [0,1].
func rms(frame []int16) float64 {
	var sum float64
	for _, s := range frame {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(frame)))
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
