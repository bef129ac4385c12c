package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/lostfound/internal/models"
	"github.com/lostfound/internal/service"
)

const (
	defaultConversationsLimit = 20
	defaultMessagesLimit      = 50
	defaultSearchLimit        = 50
)

// requester returns the authenticated user, writing a 401 when there is none.
func requester(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger) (string, bool) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		logger.Error().Msg("User ID not found in context")
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
	}
	return userID, ok
}

func HandleSendMessage(messageService service.MessageService, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requester(w, r, logger)
		if !ok {
			return
		}

		var req models.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Warn().Err(err).Msg("Invalid send message body")
			writeError(w, http.StatusBadRequest, CodeValidation, "invalid request body")
			return
		}

		msg, err := messageService.SendMessage(r.Context(), userID, req.ReceiverID, req.Content, req.ItemID)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, msg, logger)
	}
}

func HandleUserConversations(messageService service.MessageService, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requester(w, r, logger)
		if !ok {
			return
		}

		includeArchived := false
		if raw := r.URL.Query().Get("include_archived"); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, CodeValidation, "include_archived must be a boolean")
				return
			}
			includeArchived = parsed
		}
		limit, err := queryLimit(r, defaultConversationsLimit)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}

		summaries, err := messageService.GetUserConversations(r.Context(), userID, includeArchived, limit)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversations": summaries,
			"total":         len(summaries),
		}, logger)
	}
}

func HandleConversationMessages(messageService service.MessageService, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requester(w, r, logger)
		if !ok {
			return
		}

		limit, err := queryLimit(r, defaultMessagesLimit)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		var before *models.Cursor
		if raw := r.URL.Query().Get("before"); raw != "" {
			before, err = models.ParseCursor(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, CodeValidation, "invalid before cursor")
				return
			}
		}

		page, err := messageService.GetConversationMessages(r.Context(), mux.Vars(r)["id"], userID, limit, before)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, page, logger)
	}
}

func HandleMarkConversationRead(messageService service.MessageService, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requester(w, r, logger)
		if !ok {
			return
		}

		conversationID := mux.Vars(r)["id"]
		n, err := messageService.MarkConversationAsRead(r.Context(), conversationID, userID)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation_id": conversationID,
			"marked_read":     n,
		}, logger)
	}
}

func HandleArchiveConversation(messageService service.MessageService, archived bool, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requester(w, r, logger)
		if !ok {
			return
		}

		toggle := messageService.UnarchiveConversation
		if archived {
			toggle = messageService.ArchiveConversation
		}
		conv, err := toggle(r.Context(), mux.Vars(r)["id"], userID)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, conv, logger)
	}
}

func HandleUnreadCount(messageService service.MessageService, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requester(w, r, logger)
		if !ok {
			return
		}

		n, err := messageService.GetUnreadCount(r.Context(), userID)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"unread_count": n}, logger)
	}
}

func HandleSearchMessages(messageService service.MessageService, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requester(w, r, logger)
		if !ok {
			return
		}

		limit, err := queryLimit(r, defaultSearchLimit)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		msgs, err := messageService.SearchMessages(r.Context(), userID, r.URL.Query().Get("q"), limit)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"messages": msgs,
			"total":    len(msgs),
		}, logger)
	}
}

func HandleGetMessage(messageService service.MessageService, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requester(w, r, logger)
		if !ok {
			return
		}

		msg, err := messageService.GetMessage(r.Context(), mux.Vars(r)["id"], userID)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, msg, logger)
	}
}

func HandleMarkMessageRead(messageService service.MessageService, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requester(w, r, logger)
		if !ok {
			return
		}

		msg, err := messageService.MarkMessageAsRead(r.Context(), mux.Vars(r)["id"], userID)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, msg, logger)
	}
}

func HandleDeleteMessage(messageService service.MessageService, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requester(w, r, logger)
		if !ok {
			return
		}

		if err := messageService.DeleteMessage(r.Context(), mux.Vars(r)["id"], userID); err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
