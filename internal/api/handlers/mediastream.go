package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/troikatech/voice-bridge/internal/session"
	"github.com/troikatech/voice-bridge/pkg/audio"
	"github.com/troikatech/voice-bridge/pkg/auth"
	"github.com/troikatech/voice-bridge/pkg/env"
	"github.com/troikatech/voice-bridge/pkg/errors"
	"github.com/troikatech/voice-bridge/pkg/logger"
	"github.com/troikatech/voice-bridge/pkg/retry"
	"github.com/troikatech/voice-bridge/pkg/vad"
)

// streamEvent is the base JSON envelope of the carrier media stream.
type streamEvent struct {
	Event     string `json:"event"`
	StreamSid string `json:"stream_sid,omitempty"`
}

// startEvent opens a stream; custom parameters carry per-call overrides
// set when the call was placed.
type startEvent struct {
	Event            string            `json:"event"`
	StreamSid        string            `json:"stream_sid"`
	CustomParameters map[string]string `json:"custom_parameters,omitempty"`
}

// mediaEvent carries one base64 frame of companded audio.
type mediaEvent struct {
	Event     string `json:"event"`
	StreamSid string `json:"stream_sid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type stopEvent struct {
	Event     string `json:"event"`
	StreamSid string `json:"stream_sid"`
}

// ConnectRequest is the payload the carrier sends when a call starts.
type ConnectRequest struct {
	CallSid string `json:"CallSid" form:"CallSid"`
	From    string `json:"From" form:"From"`
	To      string `json:"To" form:"To"`
}

// ConnectResponse is what the carrier expects back: a websocket URL.
type ConnectResponse struct {
	WebSocketURL string `json:"websocket_url"`
}

// ConnectEndpoint handles the carrier bootstrap callback. It is called
// when a call starts and returns the wss URL for the media stream.
// Supports both GET (query params) and POST (form/json) requests.
func (h *Handler) ConnectEndpoint(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBind(&req); err != nil {
		req.CallSid = c.Query("CallSid")
		req.From = c.Query("From")
		req.To = c.Query("To")
	}

	// Alternative parameter names some carrier flows use
	if req.CallSid == "" {
		req.CallSid = c.Query("call_sid")
	}
	if req.From == "" {
		req.From = c.Query("CallFrom")
	}
	if req.To == "" {
		req.To = c.Query("CallTo")
	}

	if req.CallSid == "" {
		h.logger.Warn("connect endpoint called without CallSid",
			zap.String("method", c.Request.Method),
			zap.String("url", c.Request.URL.Path),
		)
		errors.BadRequest(c, "CallSid is required")
		return
	}

	if h.manager.Count() >= h.cfg.MaxSessions {
		h.logger.Warn("connect refused, session limit reached",
			zap.Int("max_sessions", h.cfg.MaxSessions))
		errors.ErrorResponse(c, http.StatusServiceUnavailable,
			"Service Unavailable", "concurrent call limit reached")
		return
	}

	h.logger.Info("connect endpoint called",
		zap.String("call_sid", req.CallSid),
		logger.MaskPhoneIfPresent("from", req.From),
		logger.MaskPhoneIfPresent("to", req.To),
		zap.String("method", c.Request.Method),
	)

	// Prefer the configured public URL; fall back to request-based
	// detection, which works behind a reverse proxy.
	baseURL := h.cfg.VoicebotBaseURL
	if baseURL == "" {
		scheme := "https"
		if proto := c.GetHeader("X-Forwarded-Proto"); proto == "http" {
			scheme = "http"
		} else if proto == "" && c.Request.TLS == nil {
			scheme = "http"
		}

		host := c.GetHeader("X-Forwarded-Host")
		if host == "" {
			host = c.Request.Host
		}

		baseURL = fmt.Sprintf("%s://%s", scheme, host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	wsBaseURL := baseURL
	if strings.HasPrefix(wsBaseURL, "https") {
		wsBaseURL = "wss" + wsBaseURL[5:]
	} else if strings.HasPrefix(wsBaseURL, "http") {
		wsBaseURL = "ws" + wsBaseURL[4:]
	}

	wsURL := fmt.Sprintf("%s/voicebot/ws?call_sid=%s&from=%s&to=%s",
		wsBaseURL, req.CallSid, req.From, req.To)

	if h.cfg.JWTSecret != "" {
		token, err := auth.GenerateStreamToken(req.CallSid, h.cfg.JWTSecret,
			h.cfg.JWTIssuer, h.cfg.JWTAudience, 5*time.Minute)
		if err != nil {
			errors.InternalError(c, err, h.logger)
			return
		}
		wsURL += "&token=" + token
	}

	c.JSON(http.StatusOK, ConnectResponse{WebSocketURL: wsURL})
}

// createUpgrader builds a websocket upgrader that validates the Origin
// header outside development.
func createUpgrader(cfg *env.Config) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")

			if cfg.AppEnv == "development" {
				return true
			}

			// Carrier media streams usually send no Origin at all;
			// browsers are the ones we filter here.
			if origin == "" {
				return true
			}
			if cfg.VoicebotBaseURL != "" && origin == cfg.VoicebotBaseURL {
				return true
			}

			logger.Log.Warn("websocket connection rejected, invalid origin",
				zap.String("origin", origin),
				zap.String("remote_addr", r.RemoteAddr),
			)
			return false
		},
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		EnableCompression: true,
	}
}

// MediaStreamWebSocket is the endpoint the carrier connects to for
// real-time audio. One connection carries one stream.
func (h *Handler) MediaStreamWebSocket(c *gin.Context) {
	callSid := c.Query("call_sid")
	if callSid == "" {
		callSid = c.Query("callLogId")
	}
	from := c.Query("from")
	to := c.Query("to")

	if callSid == "" {
		errors.BadRequest(c, "call_sid or callLogId is required")
		return
	}

	if h.cfg.JWTSecret != "" {
		if _, err := auth.ValidateStreamToken(c.Query("token"), callSid,
			h.cfg.JWTSecret, h.cfg.JWTIssuer, h.cfg.JWTAudience); err != nil {
			h.logger.Warn("stream token rejected",
				zap.String("call_sid", callSid),
				zap.Error(err),
			)
			errors.Unauthorized(c, "invalid stream token")
			return
		}
	}

	telephonyRate := 8000
	if sr, err := strconv.Atoi(c.Query("sample-rate")); err == nil && sr > 0 {
		telephonyRate = sr
	}
	encoding := parseEncoding(c.Query("encoding"))

	upgrader := createUpgrader(h.cfg)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade to websocket",
			zap.Error(err),
			zap.String("call_sid", callSid),
			zap.String("remote_addr", c.Request.RemoteAddr),
		)
		return
	}
	defer conn.Close()

	h.logger.Info("media stream connected",
		zap.String("call_sid", callSid),
		logger.MaskPhoneIfPresent("from", from),
		logger.MaskPhoneIfPresent("to", to),
		zap.Int("sample_rate", telephonyRate),
	)

	h.initializeCallRecord(callSid, from, to)
	h.handleMediaStream(conn, callSid, telephonyRate, encoding)
	h.finalizeCallRecord(callSid)
}

func parseEncoding(name string) audio.Encoding {
	switch name {
	case "pcm16":
		return audio.EncodingPCM16
	case "alaw":
		return audio.EncodingALaw
	default:
		return audio.EncodingMuLaw
	}
}

// handleMediaStream runs the connection lifecycle: read loop, keepalive
// pings, and teardown of whatever session the stream opened.
func (h *Handler) handleMediaStream(conn *websocket.Conn, callSid string, telephonyRate int, encoding audio.Encoding) {
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()

	transport := newWSTransport(conn)

	var streamSid string
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Error("websocket read error",
						zap.String("call_sid", callSid),
						zap.Error(err),
					)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}

			if sid := h.handleStreamEvent(transport, callSid, telephonyRate, encoding, message); sid != "" {
				streamSid = sid
			}
		}
	}()

	for {
		select {
		case <-done:
			h.logger.Info("media stream closed", zap.String("call_sid", callSid))
			if streamSid != "" {
				h.manager.Terminate(streamSid)
			}
			return

		case <-pingTicker.C:
			if err := transport.writePing(); err != nil {
				h.logger.Error("failed to send ping",
					zap.String("call_sid", callSid),
					zap.Error(err),
				)
				if streamSid != "" {
					h.manager.Terminate(streamSid)
				}
				return
			}
		}
	}
}

// handleStreamEvent routes one envelope event. The returned stream SID is
// non-empty only for start events.
func (h *Handler) handleStreamEvent(transport *wsTransport, callSid string, telephonyRate int, encoding audio.Encoding, message []byte) string {
	var event streamEvent
	if err := json.Unmarshal(message, &event); err != nil {
		h.logger.Warn("failed to parse stream event",
			zap.String("call_sid", callSid),
			zap.Error(err),
		)
		return ""
	}

	switch event.Event {
	case "start":
		return h.handleStartEvent(transport, callSid, telephonyRate, encoding, message)
	case "media":
		h.handleMediaEvent(callSid, message)
	case "stop":
		var stop stopEvent
		if err := json.Unmarshal(message, &stop); err != nil {
			h.logger.Warn("failed to parse stop event", zap.Error(err))
			return ""
		}
		h.logger.Info("stream stopped",
			zap.String("call_sid", callSid),
			zap.String("stream_sid", stop.StreamSid),
		)
		h.manager.Terminate(stop.StreamSid)
	case "clear":
		// conservative turn-taking: the current agent turn finishes
		h.logger.Info("clear event received, finishing current turn",
			zap.String("call_sid", callSid))
	case "mark":
		h.logger.Debug("mark acknowledged", zap.String("call_sid", callSid))
	default:
		h.logger.Debug("unknown stream event",
			zap.String("call_sid", callSid),
			zap.String("event", event.Event),
		)
	}
	return ""
}

func (h *Handler) handleStartEvent(transport *wsTransport, callSid string, telephonyRate int, encoding audio.Encoding, message []byte) string {
	var start startEvent
	if err := json.Unmarshal(message, &start); err != nil {
		h.logger.Warn("failed to parse start event", zap.Error(err))
		return ""
	}

	streamSid := start.StreamSid
	if streamSid == "" {
		streamSid = uuid.NewString()
	}

	cfg := h.sessionConfig(callSid, streamSid, telephonyRate, encoding, start.CustomParameters)

	if _, err := h.manager.Create(cfg, transport); err != nil {
		h.logger.Warn("session create failed",
			zap.String("call_sid", callSid),
			zap.String("stream_sid", streamSid),
			zap.Error(err),
		)
		return ""
	}
	return streamSid
}

func (h *Handler) handleMediaEvent(callSid string, message []byte) {
	var media mediaEvent
	if err := json.Unmarshal(message, &media); err != nil {
		h.logger.Warn("failed to parse media event", zap.Error(err))
		return
	}

	if err := h.manager.Dispatch(media.StreamSid, media.Media.Payload); err != nil {
		// a malformed frame or a late frame after stop; drop and continue
		h.logger.Warn("media dispatch failed",
			zap.String("call_sid", callSid),
			zap.String("stream_sid", media.StreamSid),
			zap.Error(err),
		)
	}
}

// sessionConfig builds the per-call config from process settings plus the
// carrier's custom parameters.
func (h *Handler) sessionConfig(callSid, streamSid string, telephonyRate int, encoding audio.Encoding, custom map[string]string) session.Config {
	frameDuration := 20 * time.Millisecond
	serviceRate := 16000
	frameSamples := serviceRate * int(frameDuration/time.Millisecond) / 1000

	greeting := h.cfg.Greeting
	if v := custom["greeting"]; v != "" {
		greeting = v
	}

	return session.Config{
		CallSID:       callSid,
		StreamSID:     streamSid,
		Encoding:      encoding,
		TelephonyRate: telephonyRate,
		ServiceRate:   serviceRate,
		FrameDuration: frameDuration,
		MaxUtterance:  time.Duration(h.cfg.MaxUtteranceSec) * time.Second,
		Greeting:      greeting,
		SystemPrompt:  buildSystemPrompt(h.cfg.SystemPrompt, custom),
		VAD: vad.Config{
			Strategies:       h.cfg.VADStrategyList(),
			Threshold:        h.cfg.VADThreshold,
			SampleRate:       serviceRate,
			FrameSize:        frameSamples,
			MinSpeechFrames:  h.cfg.VADMinSpeechMs / int(frameDuration/time.Millisecond),
			MinSilenceFrames: h.cfg.VADMinSilenceMs / int(frameDuration/time.Millisecond),
		},
		Retry: retry.DefaultConfig(),
	}
}

// buildSystemPrompt layers the carrier's custom parameters over the
// configured base prompt.
func buildSystemPrompt(base string, custom map[string]string) string {
	if base == "" {
		base = "You are a helpful AI assistant on a phone call. Keep replies short and natural to speak aloud."
	}
	if len(custom) == 0 {
		return base
	}

	parts := []string{base}
	if persona := custom["persona_name"]; persona != "" {
		parts = append(parts, fmt.Sprintf("Your name is %s.", persona))
	}
	if language := custom["language"]; language != "" {
		parts = append(parts, fmt.Sprintf("Speak in %s.", language))
	}
	if customer := custom["customer_name"]; customer != "" {
		parts = append(parts, fmt.Sprintf("The customer's name is %s.", customer))
	}
	return strings.Join(parts, " ")
}

// initializeCallRecord creates or updates the call record when the media
// stream starts. Best effort; a missing database never blocks the call.
func (h *Handler) initializeCallRecord(callSid, from, to string) {
	if h.mongoClient == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	filter := bson.M{"call_sid": callSid}
	update := bson.M{
		"$set": bson.M{
			"status":     "in-progress",
			"started_at": time.Now().UTC(),
		},
		"$setOnInsert": bson.M{
			"call_sid":    callSid,
			"from_number": from,
			"to_number":   to,
			"created_at":  time.Now().UTC(),
		},
	}

	if _, err := h.mongoClient.Collection("calls").
		UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		h.logger.Warn("failed to initialize call record",
			zap.String("call_sid", callSid),
			zap.Error(err),
		)
	}
}

// finalizeCallRecord stamps the call record when the stream closes.
func (h *Handler) finalizeCallRecord(callSid string) {
	if h.mongoClient == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"status":   "completed",
		"ended_at": time.Now().UTC(),
	}}

	if _, err := h.mongoClient.Collection("calls").
		UpdateOne(ctx, bson.M{"call_sid": callSid}, update); err != nil {
		h.logger.Warn("failed to finalize call record",
			zap.String("call_sid", callSid),
			zap.Error(err),
		)
	}

	h.logger.Info("call record finalized", zap.String("call_sid", callSid))
}

// wsTransport adapts one websocket connection to the session transport.
// gorilla/websocket allows a single concurrent writer, so every write
// goes through the mutex.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) writePing() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

func (t *wsTransport) WriteMedia(streamSID, payload string) error {
	return t.writeJSON(map[string]interface{}{
		"event":      "media",
		"stream_sid": streamSID,
		"media": map[string]interface{}{
			"payload": payload,
		},
	})
}

func (t *wsTransport) WriteMark(streamSID, name string) error {
	return t.writeJSON(map[string]interface{}{
		"event":      "mark",
		"stream_sid": streamSID,
		"mark": map[string]interface{}{
			"name": name,
		},
	})
}

func (t *wsTransport) WriteClear(streamSID string) error {
	return t.writeJSON(map[string]interface{}{
		"event":      "clear",
		"stream_sid": streamSID,
	})
}
