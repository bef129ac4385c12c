package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lostfound/internal/websocket"
)

func HandleWebSocket(hub *websocket.Hub, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requester(w, r, logger)
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		client := websocket.NewClient(hub, conn, userID)
		select {
		case hub.Register <- client:
		case <-hub.ShutdownChan:
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}
