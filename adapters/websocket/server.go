package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/satriahrh/gemini-chat/domain"
	"github.com/satriahrh/gemini-chat/usecase"
	"github.com/satriahrh/gemini-chat/utils/log"
	"go.uber.org/zap"
)

type Server struct {
	upgrader      websocket.Upgrader
	svc           *usecase.ChatService
	sessions      domain.SessionStore
	messageBroker domain.MessageBroker
	hub           *Hub
}

func NewServer(svc *usecase.ChatService, sessions domain.SessionStore, messageBroker domain.MessageBroker) *Server {
	return &Server{
		upgrader:      websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		svc:           svc,
		sessions:      sessions,
		messageBroker: messageBroker,
		hub:           NewHub(),
	}
}

// Run starts the hub and forwards transcript events to the session's
// clients until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	events, err := s.messageBroker.Subscribe(ctx, domain.TranscriptTopic, "")
	if err != nil {
		return err
	}

	go s.hub.Run(ctx)

	log.WithCtx(ctx).Info("🎧 WebSocket server listening to transcript events")
	go s.forward(ctx, events)
	return nil
}

func (s *Server) forward(ctx context.Context, events <-chan domain.Message) {
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return
			}
			var ev domain.TranscriptEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				log.WithCtx(ctx).Error("❌ Failed to unmarshal transcript event", zap.Error(err))
				continue
			}

			frame, err := json.Marshal(OutboundFrame{
				Type:      FrameTranscript,
				SessionID: ev.SessionID,
				Reason:    ev.Reason,
				Turns:     ev.Turns,
				Timestamp: ev.Timestamp,
			})
			if err != nil {
				log.WithCtx(ctx).Error("❌ Failed to marshal transcript frame", zap.Error(err))
				continue
			}
			s.hub.SendToSession(ev.SessionID, frame)

		case <-ctx.Done():
			log.WithCtx(ctx).Info("🔒 Transcript forwarder stopped")
			return
		}
	}
}

// handleFrame dispatches one inbound frame. Reply cycles run off the read
// loop so pings keep flowing while the model answers.
func (s *Server) handleFrame(c *Client, raw []byte) {
	var in InboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		s.sendError(c, "bad_frame", "frame is not valid JSON", err)
		return
	}

	tr, ok := s.sessions.Get(c.sessionID)
	if !ok {
		s.sendError(c, "session_not_found", "session no longer exists", nil)
		return
	}

	switch in.Type {
	case FrameMessage:
		// A started cycle runs to completion even if the socket goes away.
		ctx := context.WithoutCancel(c.ctx)
		go func() {
			log.WithCtx(ctx).Info("message received", zap.String("source", in.Source))
			_, err := s.svc.HandleUserMessage(ctx, c.sessionID, tr, in.Text, in.Model)
			switch {
			case errors.Is(err, domain.ErrCycleInProgress):
				s.sendError(c, "busy", "a reply is still being generated", nil)
			case errors.Is(err, usecase.ErrUnknownModel):
				s.sendError(c, "unknown_model", "model is not selectable", nil)
			case err != nil:
				s.sendError(c, "internal", "message could not be handled", err)
			}
		}()

	case FrameReset:
		if _, err := s.svc.Reset(c.ctx, c.sessionID, tr); err != nil {
			s.sendError(c, "busy", "a reply is still being generated", nil)
		}

	case FrameSync:
		s.sendTranscript(c, "sync", tr.Snapshot())

	default:
		s.sendError(c, "unknown_type", "unsupported frame type "+in.Type, nil)
	}
}

func (s *Server) sendTranscript(c *Client, reason string, turns []domain.Turn) {
	frame, err := json.Marshal(OutboundFrame{
		Type:      FrameTranscript,
		SessionID: c.sessionID,
		Reason:    reason,
		Turns:     turns,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.WithCtx(c.ctx).Error("Failed to marshal transcript frame", zap.Error(err))
		return
	}
	c.SendMessage(frame)
}

func (s *Server) sendError(c *Client, code, message string, cause error) {
	resp := &ErrorResponse{Code: code, Message: message}
	if cause != nil {
		resp.Details = cause.Error()
	}
	frame, err := json.Marshal(OutboundFrame{Type: FrameError, Error: resp, Timestamp: time.Now()})
	if err != nil {
		return
	}
	c.SendMessage(frame)
}
