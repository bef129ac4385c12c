package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lostfound/internal/models"
	"github.com/lostfound/internal/service"
)

const (
	EventMessage          = "message"
	EventMessageSent      = "message_sent"
	EventConversationRead = "conversation_read"
	EventError            = "error"
	EventSystem           = "system"
)

const (
	deliveryWorkers   = 4
	deliveryQueueSize = 256
	deliveryTimeout   = 5 * time.Second
)

// Event is the envelope of every frame written to a client.
type Event struct {
	Type           string          `json:"type"`
	Message        *models.Message `json:"message,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	ReaderID       string          `json:"reader_id,omitempty"`
	Count          int64           `json:"count,omitempty"`
	Content        string          `json:"content,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// deliveredBatch is a set of pushed message ids waiting to be marked
// delivered.
type deliveredBatch struct {
	userID string
	ids    []string
}

// delivery routes an event to the connection of userID, or only to client
// when one is set.
type delivery struct {
	userID string
	client *Client
	event  *Event
}

type Hub struct {
	Clients      map[string]*Client
	Register     chan *Client
	Unregister   chan *Client
	Broadcast    chan *delivery
	ShutdownChan chan struct{}

	MessageService service.MessageService
	Logger         *zerolog.Logger

	// delivered feeds the workers that persist delivery state, so the hub
	// goroutine never waits on the store.
	delivered    chan deliveredBatch
	shutdownOnce sync.Once
}

var _ service.Notifier = (*Hub)(nil)

func NewHub(messageService service.MessageService, logger *zerolog.Logger) *Hub {
	return &Hub{
		Clients:        make(map[string]*Client),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		Broadcast:      make(chan *delivery, 256),
		ShutdownChan:   make(chan struct{}),
		delivered:      make(chan deliveredBatch, deliveryQueueSize),
		MessageService: messageService,
		Logger:         logger,
	}
}

func (h *Hub) Run() {
	for i := 0; i < deliveryWorkers; i++ {
		go h.deliveryWorker()
	}

	for {
		select {
		case client := <-h.Register:
			h.handleRegister(client)
		case client := <-h.Unregister:
			h.handleUnregister(client)
		case d := <-h.Broadcast:
			h.handleBroadcast(d)
		case <-h.ShutdownChan:
			h.handleShutdown()
			return
		}
	}
}

func (h *Hub) NotifyMessage(msg *models.Message) {
	h.enqueue(&delivery{
		userID: msg.ReceiverID,
		event:  &Event{Type: EventMessage, Message: msg, Timestamp: time.Now().UTC()},
	})
}

func (h *Hub) NotifyConversationRead(conversationID, readerID, otherID string, count int64) {
	h.enqueue(&delivery{
		userID: otherID,
		event: &Event{
			Type:           EventConversationRead,
			ConversationID: conversationID,
			ReaderID:       readerID,
			Count:          count,
			Timestamp:      time.Now().UTC(),
		},
	})
}

// reply sends an event to one connection only.
func (h *Hub) reply(client *Client, event *Event) {
	event.Timestamp = time.Now().UTC()
	h.enqueue(&delivery{userID: client.UserID, client: client, event: event})
}

func (h *Hub) enqueue(d *delivery) {
	select {
	case h.Broadcast <- d:
	case <-h.ShutdownChan:
	}
}

func (h *Hub) handleRegister(client *Client) {
	if old, ok := h.Clients[client.UserID]; ok && old != client {
		close(old.Send)
	}
	h.Clients[client.UserID] = client
	h.Logger.Debug().Str("user_id", client.UserID).Msg("Client connected")
	go h.sendPendingMessages(client)
}

func (h *Hub) handleUnregister(client *Client) {
	if current, ok := h.Clients[client.UserID]; ok && current == client {
		delete(h.Clients, client.UserID)
		close(client.Send)
		h.Logger.Debug().Str("user_id", client.UserID).Msg("Client disconnected")
	}
}

func (h *Hub) handleBroadcast(d *delivery) {
	client, ok := h.Clients[d.userID]
	if !ok || (d.client != nil && d.client != client) {
		return
	}
	if !h.push(client, d.event) {
		return
	}
	if d.event.Type == EventMessage {
		h.markDelivered(client.UserID, []string{d.event.Message.ID})
	}
}

// push queues an event without blocking the hub. A client that cannot keep
// up is dropped.
func (h *Hub) push(client *Client, event *Event) bool {
	select {
	case client.Send <- event:
		return true
	default:
		h.Logger.Warn().Str("user_id", client.UserID).Msg("Client send buffer full, dropping connection")
		close(client.Send)
		delete(h.Clients, client.UserID)
		return false
	}
}

// markDelivered hands ids to the delivery workers. When the queue is full
// the messages stay undelivered and are pushed again on the next connect.
func (h *Hub) markDelivered(userID string, ids []string) {
	select {
	case h.delivered <- deliveredBatch{userID: userID, ids: ids}:
	default:
		h.Logger.Warn().Str("user_id", userID).Int("count", len(ids)).Msg("Delivery queue full, leaving messages undelivered")
	}
}

func (h *Hub) deliveryWorker() {
	for {
		select {
		case batch := <-h.delivered:
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			if _, err := h.MessageService.MarkMessagesDelivered(ctx, batch.userID, batch.ids); err != nil {
				h.Logger.Error().Err(err).Str("user_id", batch.userID).Msg("Failed to mark messages as delivered")
			}
			cancel()
		case <-h.ShutdownChan:
			return
		}
	}
}

// sendPendingMessages runs on its own goroutine and routes the backlog
// through the hub like any other reply to this connection.
func (h *Hub) sendPendingMessages(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	messages, err := h.MessageService.GetUndeliveredMessages(ctx, client.UserID, 0)
	if err != nil {
		h.Logger.Error().Err(err).Str("user_id", client.UserID).Msg("Failed to fetch pending messages")
		return
	}
	for _, msg := range messages {
		h.reply(client, &Event{Type: EventMessage, Message: msg})
	}
}

func (h *Hub) handleShutdown() {
	for id, client := range h.Clients {
		select {
		case client.Send <- &Event{Type: EventSystem, Content: "Server is shutting down", Timestamp: time.Now().UTC()}:
		default:
		}
		close(client.Send)
		delete(h.Clients, id)
	}
}

func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() { close(h.ShutdownChan) })
}
