package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"trading-core/internal/stream"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket serves /ws?channel=prices&symbol=BTCUSDT (or channel=trades,
// notifications, system). The trades and notifications channels are
// per-user and require a valid token query parameter, since a browser
// cannot set a websocket upgrade request's Authorization header.
func (s *Server) websocket(c *gin.Context) {
	kind := stream.Kind(c.Query("channel"))
	switch kind {
	case stream.KindPrice, stream.KindTrade, stream.KindNotification, stream.KindSystem:
	default:
		kind = stream.KindPrice
	}

	var suffix string
	switch kind {
	case stream.KindPrice:
		suffix = strings.ToUpper(c.Query("symbol"))
		if suffix == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_SYMBOL", "error": "symbol query parameter is required for the prices channel"})
			return
		}
	case stream.KindTrade, stream.KindNotification:
		userID, err := parseToken(c.Query("token"), s.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "INVALID_TOKEN", "error": "valid token query parameter is required for this channel"})
			return
		}
		suffix = userID
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	messages, unsub := s.Stream.Subscribe(kind, stream.Key(kind, suffix))
	defer unsub()

	for msg := range messages {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
