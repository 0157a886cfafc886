package http

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/gemini-chat/adapters/websocket"
	"github.com/satriahrh/gemini-chat/utils/log"
)

const (
	JWTExpiry = 24 * time.Hour
	JWTIssuer = "gemini-chat"
)

// JWTClaims binds a token to exactly one chat session.
type JWTClaims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

func (h *ChatHandler) issueToken(sessionID string) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(JWTExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    JWTIssuer,
			Subject:   sessionID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

// checkClientCredentials validates X-API-Key / X-API-Secret when the server
// is configured with them.
func (h *ChatHandler) checkClientCredentials(c echo.Context) bool {
	if h.apiKey == "" {
		return true
	}
	key := c.Request().Header.Get("X-API-Key")
	secret := c.Request().Header.Get("X-API-Secret")
	keyOK := subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(secret), []byte(h.apiSecret)) == 1
	return keyOK && secretOK
}

// JWTMiddleware authenticates the bearer token and stores its session id.
// Browsers cannot set headers on websocket upgrades, so a "token" query
// parameter is accepted as well.
func (h *ChatHandler) JWTMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tokenString := c.QueryParam("token")
		if authHeader := c.Request().Header.Get("Authorization"); authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
			}
		}
		if tokenString == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing authorization header")
		}

		token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return h.jwtSecret, nil
		}, jwt.WithIssuer(JWTIssuer))
		if err != nil {
			log.WithCtx(c.Request().Context()).Debug("JWT validation error", zap.Error(err))
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok || !token.Valid || claims.SessionID == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token claims")
		}

		c.Set(websocket.SessionIDKey, claims.SessionID)
		ctx := log.WithSession(c.Request().Context(), claims.SessionID)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}
