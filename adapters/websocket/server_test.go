package websocket_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/satriahrh/gemini-chat/adapters/message_broker"
	"github.com/satriahrh/gemini-chat/adapters/session"
	"github.com/satriahrh/gemini-chat/adapters/websocket"
	"github.com/satriahrh/gemini-chat/domain"
	"github.com/satriahrh/gemini-chat/usecase"
)

type echoLlm struct{}

func (echoLlm) Generate(_ context.Context, req domain.GenerationRequest) (domain.Response, error) {
	lines := strings.Split(req.Prompt, "\n")
	return domain.TextResponse{Text: "echo " + lines[len(lines)-1]}, nil
}

func startServer(t *testing.T) (*session.MemoryStore, string, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	broker := message_broker.NewChannelMessageBroker()
	t.Cleanup(func() { broker.Close() })
	sessions := session.NewMemoryStore()
	svc := usecase.NewChatService(echoLlm{}, broker, nil, usecase.Settings{
		Models: usecase.ModelSelection{Fixed: true, Default: "m"},
	})

	srv := websocket.NewServer(svc, sessions, broker)
	if err := srv.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	e := echo.New()
	e.GET("/ws", srv.Handler, func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(websocket.SessionIDKey, c.QueryParam("session"))
			return next(c)
		}
	})
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)

	id, _ := sessions.Create()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?session=" + id
	return sessions, id, url
}

func readFrame(t *testing.T, conn *gorilla.Conn) websocket.OutboundFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame websocket.OutboundFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return frame
}

func TestMessageFrameTriggersTranscriptPush(t *testing.T) {
	sessions, id, url := startServer(t)

	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	first := readFrame(t, conn)
	if first.Type != websocket.FrameTranscript || len(first.Turns) != 1 {
		t.Fatalf("initial frame = %+v", first)
	}

	if err := conn.WriteJSON(websocket.InboundFrame{Type: websocket.FrameMessage, Text: "안녕"}); err != nil {
		t.Fatal(err)
	}

	frame := readFrame(t, conn)
	if frame.Type != websocket.FrameTranscript || frame.Reason != domain.ReasonReply {
		t.Fatalf("frame = %+v", frame)
	}
	if len(frame.Turns) != 3 || frame.Turns[2].Content != "echo user: 안녕" {
		t.Fatalf("turns = %+v", frame.Turns)
	}

	tr, _ := sessions.Get(id)
	if tr.Len() != 3 {
		t.Fatalf("stored transcript has %d turns", tr.Len())
	}

	if err := conn.WriteJSON(websocket.InboundFrame{Type: websocket.FrameReset}); err != nil {
		t.Fatal(err)
	}
	frame = readFrame(t, conn)
	if frame.Reason != domain.ReasonReset || len(frame.Turns) != 1 {
		t.Fatalf("reset frame = %+v", frame)
	}
}

func TestBadFrameReturnsError(t *testing.T) {
	_, _, url := startServer(t)

	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	readFrame(t, conn)

	conn.WriteMessage(gorilla.TextMessage, []byte("not json"))
	frame := readFrame(t, conn)
	if frame.Type != websocket.FrameError || frame.Error == nil || frame.Error.Code != "bad_frame" {
		t.Fatalf("frame = %+v", frame)
	}

	conn.WriteJSON(websocket.InboundFrame{Type: "dance"})
	frame = readFrame(t, conn)
	if frame.Error == nil || frame.Error.Code != "unknown_type" {
		t.Fatalf("frame = %+v", frame)
	}
}
