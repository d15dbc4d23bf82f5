package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/collabnote/collabnote/internal/realtime"
	"github.com/collabnote/collabnote/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The REST surface already allows any origin; the channel matches it.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleRealtime authenticates the participant and hands the connection to
// a realtime session. Browsers cannot set headers on websocket dials, so
// the token rides the query string.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	token := c.Query("access_token")
	if token == "" {
		header := c.GetHeader("Authorization")
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("realtime token validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	participant := protocol.Participant{
		ID:          identity.UserID,
		DisplayName: identity.DisplayName,
		Color:       identity.Color,
	}

	session := realtime.NewSession(conn, participant, h.registry, h.logger)
	h.logger.Info("realtime session opened", zap.String("participant_id", participant.ID))
	session.Run(c.Request.Context())
	h.logger.Info("realtime session closed", zap.String("participant_id", participant.ID))
}
