package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/internal/session"
	"github.com/troikatech/voice-bridge/pkg/ai"
	"github.com/troikatech/voice-bridge/pkg/audio"
	"github.com/troikatech/voice-bridge/pkg/auth"
	"github.com/troikatech/voice-bridge/pkg/env"
	"github.com/troikatech/voice-bridge/pkg/logger"
	"github.com/troikatech/voice-bridge/pkg/transcript"
)

type stubPipeline struct{}

func (stubPipeline) Transcribe(context.Context, []byte, int) (string, error) { return "", nil }
func (stubPipeline) Generate(context.Context, []ai.Message) (string, error)  { return "", nil }
func (stubPipeline) Synthesize(context.Context, string) ([]byte, error)      { return nil, nil }

func newTestHandler(t *testing.T, cfg *env.Config) *Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger.Log = zap.NewNop()

	manager := session.NewManager(stubPipeline{}, transcript.NopStore{}, zap.NewNop())
	return NewHandler(cfg, nil, nil, manager, nil, nil, nil, nil)
}

func testEnvConfig() *env.Config {
	return &env.Config{
		AppEnv:          "development",
		MaxSessions:     10,
		VoicebotBaseURL: "https://bridge.example.com",
		JWTIssuer:       "issuer",
		JWTAudience:     "audience",
	}
}

func performConnect(h *Handler, target string) *httptest.ResponseRecorder {
	router := gin.New()
	router.GET("/voicebot/connect", h.ConnectEndpoint)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestConnectEndpointReturnsWebSocketURL(t *testing.T) {
	h := newTestHandler(t, testEnvConfig())

	w := performConnect(h, "/voicebot/connect?CallSid=CA123&From=%2B14155550100&To=%2B14155550101")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ConnectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, strings.HasPrefix(resp.WebSocketURL, "wss://bridge.example.com/voicebot/ws?"))
	require.Contains(t, resp.WebSocketURL, "call_sid=CA123")
}

func TestConnectEndpointRequiresCallSid(t *testing.T) {
	h := newTestHandler(t, testEnvConfig())

	w := performConnect(h, "/voicebot/connect")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConnectEndpointRefusesAtCapacity(t *testing.T) {
	cfg := testEnvConfig()
	cfg.MaxSessions = 0
	h := newTestHandler(t, cfg)

	w := performConnect(h, "/voicebot/connect?CallSid=CA123")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestConnectEndpointSignsStreamToken(t *testing.T) {
	cfg := testEnvConfig()
	cfg.JWTSecret = "test-secret"
	h := newTestHandler(t, cfg)

	w := performConnect(h, "/voicebot/connect?CallSid=CA456")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ConnectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	u, err := url.Parse(resp.WebSocketURL)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)

	claims, err := auth.ValidateStreamToken(token, "CA456", cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	require.NoError(t, err)
	require.Equal(t, "CA456", claims.CallSID)
}

func TestParseEncoding(t *testing.T) {
	require.Equal(t, audio.EncodingPCM16, parseEncoding("pcm16"))
	require.Equal(t, audio.EncodingALaw, parseEncoding("alaw"))
	require.Equal(t, audio.EncodingMuLaw, parseEncoding("mulaw"))
	require.Equal(t, audio.EncodingMuLaw, parseEncoding(""))
}

func TestBuildSystemPrompt(t *testing.T) {
	base := "You are a payments assistant."

	require.Equal(t, base, buildSystemPrompt(base, nil))

	got := buildSystemPrompt(base, map[string]string{
		"persona_name":  "Asha",
		"language":      "Hindi",
		"customer_name": "Ravi",
	})
	require.Contains(t, got, base)
	require.Contains(t, got, "Your name is Asha.")
	require.Contains(t, got, "Speak in Hindi.")
	require.Contains(t, got, "The customer's name is Ravi.")

	require.NotEmpty(t, buildSystemPrompt("", nil))
}
