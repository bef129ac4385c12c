package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/lostfound/internal/service"
	"github.com/lostfound/internal/websocket"
)

func SetupRoutes(
	router *mux.Router,
	hub *websocket.Hub,
	authService service.AuthService,
	messageService service.MessageService,
	logger *zerolog.Logger,
) {
	authMiddleware := AuthMiddleware(authService, logger)

	router.Handle("/ws", authMiddleware(HandleWebSocket(hub, logger))).Methods("GET")

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(authMiddleware)

	messages := apiRouter.PathPrefix("/messages").Subrouter()
	messages.HandleFunc("/send", HandleSendMessage(messageService, logger)).Methods("POST")
	messages.HandleFunc("/conversations", HandleUserConversations(messageService, logger)).Methods("GET")
	messages.HandleFunc("/conversations/{id}", HandleConversationMessages(messageService, logger)).Methods("GET")
	messages.HandleFunc("/conversations/{id}/read", HandleMarkConversationRead(messageService, logger)).Methods("PATCH")
	messages.HandleFunc("/conversations/{id}/archive", HandleArchiveConversation(messageService, true, logger)).Methods("PATCH")
	messages.HandleFunc("/conversations/{id}/unarchive", HandleArchiveConversation(messageService, false, logger)).Methods("PATCH")
	messages.HandleFunc("/unread/count", HandleUnreadCount(messageService, logger)).Methods("GET")
	messages.HandleFunc("/search", HandleSearchMessages(messageService, logger)).Methods("GET")
	messages.HandleFunc("/{id}", HandleGetMessage(messageService, logger)).Methods("GET")
	messages.HandleFunc("/{id}", HandleDeleteMessage(messageService, logger)).Methods("DELETE")
	messages.HandleFunc("/{id}/read", HandleMarkMessageRead(messageService, logger)).Methods("PATCH")

	router.HandleFunc("/health", healthCheck).Methods("GET")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
