// Package session implements the per-call turn-taking state machine and
// the registry that routes media stream events to it.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/pkg/ai"
	"github.com/troikatech/voice-bridge/pkg/audio"
	"github.com/troikatech/voice-bridge/pkg/metrics"
	"github.com/troikatech/voice-bridge/pkg/retry"
	"github.com/troikatech/voice-bridge/pkg/transcript"
	"github.com/troikatech/voice-bridge/pkg/vad"
)

// State is the turn-taking phase of a call.
type State int

const (
	// StateIdle is the phase between stream start and the greeting.
	StateIdle State = iota
	// StateListening means inbound audio feeds the voice activity detector.
	StateListening
	// StateProcessing means an utterance is in the AI pipeline. Inbound
	// audio is dropped; the caller cannot barge in.
	StateProcessing
	// StateSpeaking means agent audio is streaming out, paced in real time.
	StateSpeaking
	// StateTerminated is terminal. No transition leaves it.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Transport writes outbound events back to the telephony media stream.
// Implementations must be safe for concurrent use.
type Transport interface {
	WriteMedia(streamSID, payload string) error
	WriteMark(streamSID, name string) error
	WriteClear(streamSID string) error
}

// TransportError wraps a failed outbound write. It usually means the peer
// hung up; the session terminates on the first one.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// apologyText is spoken when the pipeline fails after its retry, so the
// caller hears something instead of dead air.
const apologyText = "I'm sorry, I didn't catch that. Could you please say it again?"

// Config describes one call session.
type Config struct {
	CallSID   string
	StreamSID string

	// Encoding is the wire format of inbound and outbound media frames.
	Encoding audio.Encoding

	// TelephonyRate is the carrier's sample rate, ServiceRate the rate the
	// VAD and AI pipeline operate at.
	TelephonyRate int
	ServiceRate   int

	// FrameDuration paces outbound audio and sizes VAD frames.
	FrameDuration time.Duration

	// MaxUtterance force-closes a segment that never goes silent.
	MaxUtterance time.Duration

	Greeting     string
	SystemPrompt string

	VAD   vad.Config
	Retry retry.Config
}

func (c *Config) withDefaults() {
	if c.TelephonyRate <= 0 {
		c.TelephonyRate = 8000
	}
	if c.ServiceRate <= 0 {
		c.ServiceRate = 16000
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = 20 * time.Millisecond
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = 30 * time.Second
	}
	if len(c.VAD.Strategies) == 0 {
		vcfg := vad.DefaultConfig()
		vcfg.SampleRate = c.ServiceRate
		vcfg.FrameSize = c.ServiceRate * int(c.FrameDuration/time.Millisecond) / 1000
		c.VAD = vcfg
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
}

// maxHistory bounds the conversation window sent to the language model.
// The system prompt is always kept.
const maxHistory = 20

// Session drives one phone call: inbound media feeds the VAD while
// listening, completed utterances run through the AI pipeline, and the
// reply streams back paced at the frame duration.
type Session struct {
	cfg       Config
	log       *zap.Logger
	transport Transport
	pipeline  ai.Pipeline
	store     transcript.Store
	detector  *vad.Detector
	tracer    otrace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	segment        *Segment
	remainder      []byte
	history        []ai.Message
	turn           int
	utteranceTimer *time.Timer

	frameBytes int

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New builds a session in the Idle state. The VAD strategy chain is
// resolved here, once.
func New(cfg Config, pipeline ai.Pipeline, transport Transport, store transcript.Store, log *zap.Logger) *Session {
	cfg.withDefaults()

	slog := log.With(
		zap.String("call_sid", cfg.CallSID),
		zap.String("stream_sid", cfg.StreamSID),
	)

	classifier := vad.Resolve(cfg.VAD, slog)
	detector := vad.NewDetector(classifier, cfg.VAD, slog)

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:        cfg,
		log:        slog,
		transport:  transport,
		pipeline:   pipeline,
		store:      store,
		detector:   detector,
		tracer:     otel.Tracer("voice-bridge/session"),
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
		frameBytes: classifier.FrameSize() * 2,
	}

	if cfg.SystemPrompt != "" {
		s.history = append(s.history, ai.Message{Role: ai.RoleSystem, Content: cfg.SystemPrompt})
	}

	return s
}

// StreamSID returns the session's registry key.
func (s *Session) StreamSID() string { return s.cfg.StreamSID }

// CallSID returns the call this stream belongs to.
func (s *Session) CallSID() string { return s.cfg.CallSID }

// State returns the current turn-taking phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start plays the configured greeting, then begins listening. Without a
// greeting the session goes straight to Listening.
func (s *Session) Start() {
	if s.cfg.Greeting == "" {
		s.resumeListening()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.PlayGreeting()
	}()
}

// PlayGreeting synthesizes and paces the opening prompt, then moves the
// session to Listening.
func (s *Session) PlayGreeting() {
	ctx, span := s.tracer.Start(s.ctx, "session.greeting",
		otrace.WithAttributes(attribute.String("call_sid", s.cfg.CallSID)))
	defer span.End()

	pcm, err := s.pipeline.Synthesize(ctx, s.cfg.Greeting)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error("greeting synthesis failed", zap.Error(err))
		s.resumeListening()
		return
	}

	s.recordUtterance(transcript.SpeakerAgent, s.cfg.Greeting, 0)
	s.appendHistory(ai.Message{Role: ai.RoleAssistant, Content: s.cfg.Greeting})

	if err := s.speak(ctx, pcm, "greeting"); err != nil {
		return
	}
	s.resumeListening()
}

// HandleMedia accepts one inbound media payload (base64 companded audio).
// While not Listening the decoded audio is dropped: the agent finishes its
// turn, the caller cannot barge in. A malformed payload is reported but
// never terminates the call.
func (s *Session) HandleMedia(payload string) error {
	raw, err := audio.DecodeTransport(payload)
	if err != nil {
		return err
	}
	wire, err := audio.Decode(raw, s.cfg.Encoding)
	if err != nil {
		return err
	}
	pcm, err := audio.Resample(wire, s.cfg.TelephonyRate, s.cfg.ServiceRate)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateListening {
		return nil
	}

	s.segment.Append(pcm)
	s.remainder = append(s.remainder, pcm...)

	for len(s.remainder) >= s.frameBytes {
		frame := audio.Samples(s.remainder[:s.frameBytes])
		s.remainder = s.remainder[s.frameBytes:]

		ev := s.detector.Feed(frame)
		if ev == nil {
			continue
		}

		switch ev.Type {
		case vad.SpeechStart:
			s.onSpeechStartLocked(ev)
		case vad.SpeechEnd:
			s.log.Info("speech ended",
				zap.Int("frame", ev.Frame),
				zap.Duration("utterance", s.segment.Duration(s.cfg.ServiceRate)),
			)
			s.endUtteranceLocked()
			return nil
		}
	}

	return nil
}

func (s *Session) onSpeechStartLocked(ev *vad.Event) {
	s.segment.MarkSpeech()
	s.log.Info("speech started",
		zap.Int("frame", ev.Frame),
		zap.Float64("confidence", ev.Confidence),
	)

	s.utteranceTimer = time.AfterFunc(s.cfg.MaxUtterance, s.forceEndUtterance)
}

// forceEndUtterance fires when a segment hits the max utterance length
// without a speech-end, so one long monologue cannot stall the call.
func (s *Session) forceEndUtterance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateListening || !s.detector.Active() {
		return
	}
	s.log.Warn("max utterance length reached, closing segment",
		zap.Duration("max_utterance", s.cfg.MaxUtterance))
	s.endUtteranceLocked()
}

func (s *Session) endUtteranceLocked() {
	if s.utteranceTimer != nil {
		s.utteranceTimer.Stop()
		s.utteranceTimer = nil
	}

	s.state = StateProcessing
	s.turn++
	seg := s.segment
	s.segment = nil
	s.remainder = nil
	turn := s.turn

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.processTurn(seg, turn)
	}()
}

// processTurn runs one utterance through transcription, generation and
// synthesis. Each stage gets one retry; an exhausted stage produces the
// spoken apology rather than silence.
func (s *Session) processTurn(seg *Segment, turn int) {
	ctx, span := s.tracer.Start(s.ctx, "session.turn", otrace.WithAttributes(
		attribute.String("call_sid", s.cfg.CallSID),
		attribute.Int("turn", turn),
	))
	defer span.End()

	turnStart := time.Now()
	completed := false
	defer func() {
		metrics.RecordTurn(completed, time.Since(turnStart))
	}()

	var text string
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		var err error
		text, err = s.pipeline.Transcribe(ctx, seg.PCM(), s.cfg.ServiceRate)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		s.log.Error("transcription failed", zap.Int("turn", turn), zap.Error(err))
		s.speakApology(ctx)
		s.resumeListening()
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		// noise that never was speech; listen again without comment
		s.log.Debug("empty transcription, resuming listening", zap.Int("turn", turn))
		completed = true
		s.resumeListening()
		return
	}

	s.log.Info("caller utterance transcribed",
		zap.Int("turn", turn),
		zap.Int("chars", len(text)),
	)
	s.recordUtterance(transcript.SpeakerCaller, text, turn)
	s.appendHistory(ai.Message{Role: ai.RoleUser, Content: text})

	var reply string
	err = retry.Do(ctx, s.cfg.Retry, func() error {
		var err error
		reply, err = s.pipeline.Generate(ctx, s.snapshotHistory())
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		s.log.Error("response generation failed", zap.Int("turn", turn), zap.Error(err))
		s.speakApology(ctx)
		s.resumeListening()
		return
	}

	s.recordUtterance(transcript.SpeakerAgent, reply, turn)
	s.appendHistory(ai.Message{Role: ai.RoleAssistant, Content: reply})

	var pcm []byte
	err = retry.Do(ctx, s.cfg.Retry, func() error {
		var err error
		pcm, err = s.pipeline.Synthesize(ctx, reply)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		s.log.Error("synthesis failed", zap.Int("turn", turn), zap.Error(err))
		s.resumeListening()
		return
	}

	if err := s.speak(ctx, pcm, fmt.Sprintf("turn-%d", turn)); err != nil {
		return
	}
	completed = true
	s.resumeListening()
}

// speakApology is best effort; if even the apology cannot be synthesized
// the session just goes back to listening.
func (s *Session) speakApology(ctx context.Context) {
	pcm, err := s.pipeline.Synthesize(ctx, apologyText)
	if err != nil {
		s.log.Error("apology synthesis failed", zap.Error(err))
		return
	}
	_ = s.speak(ctx, pcm, "apology")
}

// speak streams service-rate PCM back out, re-encoded for the wire and
// paced one frame per FrameDuration so the carrier buffer is never
// flooded. A mark event trails the audio so playback completion is
// observable.
func (s *Session) speak(ctx context.Context, pcm []byte, markName string) error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return nil
	}
	// the opening prompt plays while still Idle; Idle is the only state
	// that may precede the first Listening transition
	if s.state != StateIdle {
		s.state = StateSpeaking
	}
	s.mu.Unlock()

	wire, err := audio.Resample(pcm, s.cfg.ServiceRate, s.cfg.TelephonyRate)
	if err != nil {
		s.log.Error("downsample for playback failed", zap.Error(err))
		return err
	}
	encoded, err := audio.Encode(wire, s.cfg.Encoding)
	if err != nil {
		s.log.Error("encode for playback failed", zap.Error(err))
		return err
	}

	samplesPerFrame := int(time.Duration(s.cfg.TelephonyRate) * s.cfg.FrameDuration / time.Second)
	frameBytes := samplesPerFrame
	if s.cfg.Encoding == audio.EncodingPCM16 {
		frameBytes *= 2
	}

	frames := audio.Chunk(encoded, frameBytes)

	ticker := time.NewTicker(s.cfg.FrameDuration)
	defer ticker.Stop()

	for _, frame := range frames {
		select {
		case <-ctx.Done():
			// flush whatever the carrier still has buffered
			_ = s.transport.WriteClear(s.cfg.StreamSID)
			return ctx.Err()
		case <-ticker.C:
		}

		if err := s.transport.WriteMedia(s.cfg.StreamSID, audio.EncodeTransport(frame)); err != nil {
			werr := &TransportError{Op: "media", Err: err}
			s.log.Warn("outbound media write failed, terminating session", zap.Error(werr))
			s.Terminate("transport failure")
			return werr
		}
	}

	if err := s.transport.WriteMark(s.cfg.StreamSID, markName); err != nil {
		werr := &TransportError{Op: "mark", Err: err}
		s.log.Warn("mark write failed, terminating session", zap.Error(werr))
		s.Terminate("transport failure")
		return werr
	}

	return nil
}

// resumeListening opens a fresh segment and resets the detector so runs
// from the previous turn cannot leak into the next one.
func (s *Session) resumeListening() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return
	}

	s.state = StateListening
	s.segment = newSegment()
	s.remainder = nil
	s.detector.Reset()
	s.log.Debug("listening", zap.String("segment_id", s.segment.ID))
}

func (s *Session) appendHistory(msg ai.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, msg)
	if len(s.history) <= maxHistory {
		return
	}

	// drop the oldest exchange, keeping the system prompt in place
	if len(s.history) > 0 && s.history[0].Role == ai.RoleSystem {
		s.history = append(s.history[:1], s.history[2:]...)
	} else {
		s.history = s.history[1:]
	}
}

func (s *Session) snapshotHistory() []ai.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ai.Message, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) recordUtterance(speaker transcript.Speaker, text string, turn int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.store.Append(ctx, s.cfg.CallSID, transcript.Utterance{
		Speaker: speaker,
		Text:    text,
		Turn:    turn,
		At:      time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn("transcript append failed", zap.Error(err))
	}
}

// Terminate moves the session to its terminal state, cancels in-flight
// pipeline work and finalizes the transcript. Safe to call more than once
// and from any state.
func (s *Session) Terminate(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateTerminated
		if s.utteranceTimer != nil {
			s.utteranceTimer.Stop()
			s.utteranceTimer = nil
		}
		turns := s.turn
		s.mu.Unlock()

		s.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.store.Close(ctx, s.cfg.CallSID); err != nil {
			s.log.Warn("transcript close failed", zap.Error(err))
		}

		metrics.RecordSessionTerminated()
		s.log.Info("session terminated",
			zap.String("reason", reason),
			zap.Int("turns", turns),
		)
	})
}

// Wait blocks until all background turn work has finished. Used by
// graceful shutdown.
func (s *Session) Wait() {
	s.wg.Wait()
}
