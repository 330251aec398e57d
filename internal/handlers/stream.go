package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/maskdetect/internal/vision"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 << 10,
	WriteBufferSize: 4 << 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamHandler serves webcam-style clients: every binary message is an
// encoded frame, answered with the same JSON envelope as POST /detect.
func streamHandler(detector Detector, limit int64, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()
		conn.SetReadLimit(limit)

		ctx := c.Request.Context()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Warn("websocket read failed", zap.Error(err))
				}
				return
			}

			var reply any
			if msgType != websocket.BinaryMessage {
				reply = gin.H{"error": vision.Message(vision.DecodeError(nil, "frames must be sent as binary messages"))}
			} else if result, err := detector.Detect(ctx, data); err != nil {
				reply = gin.H{"error": vision.Message(err)}
			} else {
				reply = result
			}

			if err := conn.WriteJSON(reply); err != nil {
				logger.Warn("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
