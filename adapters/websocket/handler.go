package websocket

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/gemini-chat/utils/log"
)

// SessionIDKey is the echo context key the auth middleware stores the
// session id under.
const SessionIDKey = "session_id"

// Handler upgrades "/ws" for an authenticated session and blocks until the
// connection ends.
func (s *Server) Handler(c echo.Context) error {
	sessionID, _ := c.Get(SessionIDKey).(string)
	tr, ok := s.sessions.Get(sessionID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Session not found")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, sessionID, s.handleFrame)
	s.hub.Register(client)
	defer s.hub.Unregister(client)

	client.Run()
	log.WithCtx(client.Context()).Debug("client connected", zap.Int("clients", s.hub.ClientCount()))
	s.sendTranscript(client, "sync", tr.Snapshot())

	<-client.Context().Done()

	return nil
}
