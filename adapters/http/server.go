package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/gemini-chat/utils/log"
)

// NewServer assembles the echo instance with the chat routes. ws serves the
// websocket upgrade; it may be nil.
func NewServer(h *ChatHandler, ws echo.HandlerFunc) *echo.Echo {
	e := newEcho()

	api := e.Group("/api/v1")
	api.GET("/health", h.HealthCheck)
	api.GET("/models", h.Models)
	api.POST("/sessions", h.CreateSession)

	sess := api.Group("/session", h.JWTMiddleware)
	sess.GET("/transcript", h.Transcript)
	sess.POST("/messages", h.SendMessage)
	sess.POST("/reset", h.Reset)
	if h.voiceEnabled() {
		sess.POST("/voice", h.SendVoice)
		sess.GET("/turns/:index/audio", h.TurnAudio)
	}

	if ws != nil {
		e.GET("/ws", ws, h.JWTMiddleware)
	}

	return e
}

// NewMisconfiguredServer serves the configuration-error state: health
// reports the problem and every other route answers 503 with message.
func NewMisconfiguredServer(message string) *echo.Echo {
	e := newEcho()

	unavailable := func(c echo.Context) error {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status":  "misconfigured",
			"message": message,
		})
	}

	e.GET("/api/v1/health", unavailable)
	e.Any("/*", unavailable)
	return e
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(requestContext)
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger := log.WithCtx(c.Request().Context())
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(20)))

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"If-None-Match",
			"X-API-Key",
			"X-API-Secret",
		},
		ExposeHeaders: []string{"ETag"},
		MaxAge:        int((24 * time.Hour).Seconds()),
	}))

	e.Use(middleware.BodyLimit("10MB"))

	return e
}

// requestContext copies the request id into the request context for logging.
func requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
			c.SetRequest(c.Request().WithContext(log.WithRequestID(c.Request().Context(), id)))
		}
		return next(c)
	}
}
