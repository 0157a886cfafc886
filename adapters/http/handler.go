package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/satriahrh/gemini-chat/adapters/hasher"
	"github.com/satriahrh/gemini-chat/adapters/websocket"
	"github.com/satriahrh/gemini-chat/domain"
	"github.com/satriahrh/gemini-chat/usecase"
	"github.com/satriahrh/gemini-chat/utils/log"
)

const defaultSampleRate = 16000

type ChatHandler struct {
	chatService *usecase.ChatService
	sessions    domain.SessionStore
	hasher      domain.Hasher
	transcriber domain.Transcriber
	synthesizer domain.Synthesizer
	jwtSecret   []byte
	apiKey      string
	apiSecret   string
}

type HandlerOptions struct {
	JWTSecret []byte
	APIKey    string
	APISecret string

	// Voice routes are only registered when both are set.
	Transcriber domain.Transcriber
	Synthesizer domain.Synthesizer
}

type SessionResponse struct {
	SessionID string        `json:"session_id"`
	Token     string        `json:"token"`
	Type      string        `json:"type"`
	Turns     []domain.Turn `json:"turns"`
}

type TranscriptResponse struct {
	SessionID string        `json:"session_id" yaml:"session_id"`
	Turns     []domain.Turn `json:"turns" yaml:"turns"`
}

type MessageRequest struct {
	Text   string `json:"text"`
	Model  string `json:"model"`
	Source string `json:"source"` // "chat" or "sidebar", informational
}

type MessageResponse struct {
	Ignored    bool          `json:"ignored"`
	Failed     bool          `json:"failed"`
	Reply      *domain.Turn  `json:"reply,omitempty"`
	Transcript string        `json:"transcript,omitempty"`
	Turns      []domain.Turn `json:"turns"`
}

type ModelsResponse struct {
	Mode    string   `json:"mode"`
	Default string   `json:"default"`
	Models  []string `json:"models"`
}

func NewChatHandler(chatService *usecase.ChatService, sessions domain.SessionStore, h domain.Hasher, opts HandlerOptions) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		sessions:    sessions,
		hasher:      h,
		transcriber: opts.Transcriber,
		synthesizer: opts.Synthesizer,
		jwtSecret:   opts.JWTSecret,
		apiKey:      opts.APIKey,
		apiSecret:   opts.APISecret,
	}
}

func (h *ChatHandler) voiceEnabled() bool {
	return h.transcriber != nil && h.synthesizer != nil
}

func (h *ChatHandler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"sessions":  h.sessions.Count(),
		"timestamp": time.Now().UTC(),
		"service":   "gemini-chat",
	})
}

// Models lists what the sidebar model picker offers.
func (h *ChatHandler) Models(c echo.Context) error {
	sel := h.chatService.Models()
	resp := ModelsResponse{Mode: "selectable", Default: sel.Default, Models: sel.Allowed}
	if sel.Fixed {
		resp.Mode = "fixed"
		resp.Models = []string{sel.Default}
	}
	return c.JSON(http.StatusOK, resp)
}

// CreateSession starts a conversation and returns a token bound to it.
func (h *ChatHandler) CreateSession(c echo.Context) error {
	if !h.checkClientCredentials(c) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	}

	id, tr := h.sessions.Create()
	token, err := h.issueToken(id)
	if err != nil {
		h.sessions.Delete(id)
		log.WithCtx(c.Request().Context()).Error("Error signing JWT", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate token")
	}

	log.WithCtx(log.WithSession(c.Request().Context(), id)).Info("session created")
	return c.JSON(http.StatusCreated, SessionResponse{
		SessionID: id,
		Token:     token,
		Type:      "Bearer",
		Turns:     tr.Snapshot(),
	})
}

// Transcript renders the session. The ETag lets polling clients skip
// unchanged transcripts; ?format=yaml exports it.
func (h *ChatHandler) Transcript(c echo.Context) error {
	id, tr, err := h.transcript(c)
	if err != nil {
		return err
	}

	turns := tr.Snapshot()
	etag := `"` + hasher.Fingerprint(h.hasher, turns) + `"`
	c.Response().Header().Set("ETag", etag)
	if c.Request().Header.Get("If-None-Match") == etag {
		return c.NoContent(http.StatusNotModified)
	}

	body := TranscriptResponse{SessionID: id, Turns: turns}
	if c.QueryParam("format") == "yaml" {
		out, err := yaml.Marshal(body)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to export transcript")
		}
		return c.Blob(http.StatusOK, "application/yaml", out)
	}
	return c.JSON(http.StatusOK, body)
}

// SendMessage serves both the chat box and the sidebar send button.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	id, tr, err := h.transcript(c)
	if err != nil {
		return err
	}

	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	// A started cycle runs to completion even if the client goes away.
	ctx := context.WithoutCancel(c.Request().Context())
	log.WithCtx(ctx).Info("message received", zap.String("source", req.Source))

	out, err := h.chatService.HandleUserMessage(ctx, id, tr, req.Text, req.Model)
	if err != nil {
		return cycleError(err)
	}
	return c.JSON(http.StatusOK, toMessageResponse(out, ""))
}

func (h *ChatHandler) Reset(c echo.Context) error {
	id, tr, err := h.transcript(c)
	if err != nil {
		return err
	}
	turns, err := h.chatService.Reset(c.Request().Context(), id, tr)
	if err != nil {
		return cycleError(err)
	}
	return c.JSON(http.StatusOK, TranscriptResponse{SessionID: id, Turns: turns})
}

// SendVoice transcribes a LINEAR16 recording and handles it as a message.
func (h *ChatHandler) SendVoice(c echo.Context) error {
	id, tr, err := h.transcript(c)
	if err != nil {
		return err
	}

	sampleRate := defaultSampleRate
	if v := c.QueryParam("sample_rate"); v != "" {
		if sampleRate, err = strconv.Atoi(v); err != nil || sampleRate <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid sample_rate")
		}
	}

	audio, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read audio")
	}
	if len(audio) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Empty audio")
	}

	ctx := c.Request().Context()
	text, err := h.transcriber.Transcribe(ctx, audio, sampleRate)
	if err != nil {
		log.WithCtx(ctx).Error("transcription failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "Failed to transcribe audio")
	}

	out, err := h.chatService.HandleUserMessage(context.WithoutCancel(ctx), id, tr, text, c.QueryParam("model"))
	if err != nil {
		return cycleError(err)
	}
	return c.JSON(http.StatusOK, toMessageResponse(out, text))
}

// TurnAudio reads one turn aloud as MP3.
func (h *ChatHandler) TurnAudio(c echo.Context) error {
	_, tr, err := h.transcript(c)
	if err != nil {
		return err
	}

	index, err := strconv.Atoi(c.Param("index"))
	turns := tr.Snapshot()
	if err != nil || index < 0 || index >= len(turns) {
		return echo.NewHTTPError(http.StatusNotFound, "Turn not found")
	}

	audio, err := h.synthesizer.Synthesize(c.Request().Context(), turns[index].Content)
	if err != nil {
		log.WithCtx(c.Request().Context()).Error("synthesis failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "Failed to synthesize audio")
	}
	return c.Blob(http.StatusOK, "audio/mpeg", audio)
}

func (h *ChatHandler) transcript(c echo.Context) (string, *domain.Transcript, error) {
	id, _ := c.Get(websocket.SessionIDKey).(string)
	tr, ok := h.sessions.Get(id)
	if !ok {
		return "", nil, echo.NewHTTPError(http.StatusNotFound, "Session not found")
	}
	return id, tr, nil
}

func cycleError(err error) error {
	switch {
	case errors.Is(err, usecase.ErrUnknownModel):
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown model")
	case errors.Is(err, domain.ErrCycleInProgress):
		return echo.NewHTTPError(http.StatusConflict, "A reply is still being generated")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to handle message")
	}
}

func toMessageResponse(out usecase.Outcome, transcript string) MessageResponse {
	resp := MessageResponse{
		Ignored:    out.Ignored,
		Failed:     out.Failed,
		Transcript: transcript,
		Turns:      out.Turns,
	}
	if !out.Ignored {
		reply := out.Reply
		resp.Reply = &reply
	}
	return resp
}
