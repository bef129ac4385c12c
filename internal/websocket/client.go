package websocket

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lostfound/internal/models"
	"github.com/lostfound/internal/service"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	sendTimeout  = 10 * time.Second
	maxFrameSize = 32 << 10
)

type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	UserID string
	Send   chan *Event
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		Send:   make(chan *Event, 256),
	}
}

// ReadPump turns inbound frames into sent messages. The hub is only told
// about the result, so a slow store never blocks other connections.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.ShutdownChan:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var req models.SendMessageRequest
		err := c.Conn.ReadJSON(&req)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.Logger.Error().Err(err).Str("user_id", c.UserID).Msg("WebSocket read error")
			}
			break
		}
		c.send(req)
	}
}

func (c *Client) send(req models.SendMessageRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	msg, err := c.Hub.MessageService.SendMessage(ctx, c.UserID, req.ReceiverID, req.Content, req.ItemID)
	if err != nil {
		c.Hub.reply(c, &Event{Type: EventError, Content: clientError(err)})
		return
	}
	c.Hub.reply(c, &Event{Type: EventMessageSent, Message: msg})
}

func clientError(err error) string {
	var (
		validation *service.ValidationError
		notFound   *service.NotFoundError
		forbidden  *service.ForbiddenError
	)
	if errors.As(err, &validation) || errors.As(err, &notFound) || errors.As(err, &forbidden) {
		return err.Error()
	}
	return "failed to send message"
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(event); err != nil {
				c.Hub.Logger.Error().Err(err).Str("user_id", c.UserID).Msg("WebSocket write error")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
