package vad

import (
	"math"
	"testing"

	"go.uber.org/zap"
)

func toneFrame(n int, amplitude float64, periodSamples int) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		frame[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*float64(i)/float64(periodSamples)))
	}
	return frame
}

func TestResolveFallsThroughBrokenStrategies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 2.0 // rejects the adaptive strategy
	cfg.Strategies = []string{StrategyAdaptive, StrategyRMS}

	c := Resolve(cfg, zap.NewNop())
	if c.Name() != StrategyRMS {
		t.Errorf("resolved strategy = %s, want %s", c.Name(), StrategyRMS)
	}
}

func TestResolveUnknownStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategies = []string{"silero", StrategyZeroCrossing}

	c := Resolve(cfg, zap.NewNop())
	if c.Name() != StrategyZeroCrossing {
		t.Errorf("resolved strategy = %s, want %s", c.Name(), StrategyZeroCrossing)
	}
}

func TestRMSClassifier(t *testing.T) {
	cfg := DefaultConfig()
	c, err := newRMSClassifier(cfg)
	if err != nil {
		t.Fatalf("newRMSClassifier() error = %v", err)
	}

	loud, err := c.Classify(toneFrame(320, 0.5, 80))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !loud.IsSpeech {
		t.Error("loud tone classified as silence")
	}

	quiet, err := c.Classify(make([]int16, 320))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if quiet.IsSpeech {
		t.Error("all-zero frame classified as speech")
	}
}

func TestAdaptiveClassifierTracksNoiseFloor(t *testing.T) {
	cfg := DefaultConfig()
	c, err := newAdaptiveClassifier(cfg)
	if err != nil {
		t.Fatalf("newAdaptiveClassifier() error = %v", err)
	}

	// build a quiet baseline
	for i := 0; i < 20; i++ {
		if _, err := c.Classify(toneFrame(320, 0.005, 80)); err != nil {
			t.Fatalf("Classify() error = %v", err)
		}
	}

	got, err := c.Classify(toneFrame(320, 0.6, 80))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !got.IsSpeech {
		t.Error("loud frame over quiet baseline classified as silence")
	}
}

func TestZeroCrossingRejectsHiss(t *testing.T) {
	cfg := DefaultConfig()
	c, err := newZeroCrossingClassifier(cfg)
	if err != nil {
		t.Fatalf("newZeroCrossingClassifier() error = %v", err)
	}

	// energetic but alternating every sample: far above the speech ZCR band
	hiss := make([]int16, 320)
	for i := range hiss {
		if i%2 == 0 {
			hiss[i] = 12000
		} else {
			hiss[i] = -12000
		}
	}
	got, err := c.Classify(hiss)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.IsSpeech {
		t.Error("full-rate alternation classified as speech")
	}

	voiced, err := c.Classify(toneFrame(320, 0.5, 40))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !voiced.IsSpeech {
		t.Error("voiced tone classified as silence")
	}
}
