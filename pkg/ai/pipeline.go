package ai

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	otrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/pkg/circuitbreaker"
	"github.com/troikatech/voice-bridge/pkg/metrics"
)

// Chain composes transcription, generation and synthesis into the per-turn
// pipeline. Each stage runs behind its own circuit breaker; synthesizers
// form an ordered fallback list so a degraded TTS provider does not take
// the whole pipeline down.
type Chain struct {
	transcriber Transcriber
	responder   Responder
	synths      []Synthesizer

	sttBreaker  *circuitbreaker.CircuitBreaker
	chatBreaker *circuitbreaker.CircuitBreaker
	ttsBreaker  map[string]*circuitbreaker.CircuitBreaker

	tracer otrace.Tracer
	logger *zap.Logger
}

// NewChain builds the pipeline. Synthesizers are tried in the given order.
func NewChain(transcriber Transcriber, responder Responder, synths []Synthesizer, logger *zap.Logger) *Chain {
	// one breaker per synthesizer so an open breaker on the primary
	// provider does not block the fallback
	ttsBreakers := make(map[string]*circuitbreaker.CircuitBreaker, len(synths))
	for _, synth := range synths {
		ttsBreakers[synth.Name()] = circuitbreaker.New(circuitbreaker.DefaultConfig())
	}

	return &Chain{
		transcriber: transcriber,
		responder:   responder,
		synths:      synths,
		sttBreaker:  circuitbreaker.New(circuitbreaker.DefaultConfig()),
		chatBreaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
		ttsBreaker:  ttsBreakers,
		tracer:      otel.Tracer("voice-bridge/ai"),
		logger:      logger,
	}
}

// Transcribe converts utterance PCM to text.
func (c *Chain) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	ctx, span := c.tracer.Start(ctx, "ai.transcribe")
	defer span.End()

	start := time.Now()
	var text string
	err := c.sttBreaker.Execute(ctx, func() error {
		var err error
		text, err = c.transcriber.Transcribe(ctx, pcm, sampleRate)
		return err
	})
	metrics.RecordServiceCall("transcription", err == nil, time.Since(start))
	metrics.UpdateCircuitBreaker("transcription", c.sttBreaker.State().String(), int64(c.sttBreaker.Failures()))
	if err != nil {
		span.RecordError(err)
		return "", &ServiceError{Stage: "transcription", Err: err}
	}
	return text, nil
}

// Generate produces the next agent reply.
func (c *Chain) Generate(ctx context.Context, history []Message) (string, error) {
	ctx, span := c.tracer.Start(ctx, "ai.generate")
	defer span.End()

	start := time.Now()
	var reply string
	err := c.chatBreaker.Execute(ctx, func() error {
		var err error
		reply, err = c.responder.Generate(ctx, history)
		return err
	})
	metrics.RecordServiceCall("generation", err == nil, time.Since(start))
	metrics.UpdateCircuitBreaker("generation", c.chatBreaker.State().String(), int64(c.chatBreaker.Failures()))
	if err != nil {
		span.RecordError(err)
		return "", &ServiceError{Stage: "generation", Err: err}
	}
	return reply, nil
}

// Synthesize renders text as 16kHz PCM, walking the synthesizer fallback
// list until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "ai.synthesize")
	defer span.End()

	var lastErr error
	for _, synth := range c.synths {
		if !synth.IsAvailable() {
			continue
		}

		start := time.Now()
		var pcm []byte
		err := c.ttsBreaker[synth.Name()].Execute(ctx, func() error {
			var err error
			pcm, err = synth.Synthesize(ctx, text)
			return err
		})
		breaker := c.ttsBreaker[synth.Name()]
		metrics.RecordServiceCall("synthesis:"+synth.Name(), err == nil, time.Since(start))
		metrics.UpdateCircuitBreaker("synthesis:"+synth.Name(), breaker.State().String(), int64(breaker.Failures()))
		if err == nil {
			return pcm, nil
		}

		lastErr = err
		c.logger.Warn("TTS provider failed, trying next",
			zap.String("provider", synth.Name()),
			zap.Error(err),
		)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no TTS provider available")
	}
	span.RecordError(lastErr)
	return nil, &ServiceError{Stage: "synthesis", Err: lastErr}
}
