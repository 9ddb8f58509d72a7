package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"gemini-chat-relay/internal/models"
)

// chatService is satisfied by *services.GeminiService.
type chatService interface {
	Chat(ctx context.Context, message string, history []models.ChatTurn) (string, error)
}

type ChatHandler struct {
	chatService chatService
}

func NewChatHandler(chatService chatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("Invalid request body", ""))
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("Message is required", ""))
		return
	}

	reply, err := h.chatService.Chat(r.Context(), req.Message, req.History)
	if err != nil {
		log.Printf("Chat error [%s]: %v", r.Header.Get("X-Request-ID"), err)
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.ChatResponse{Response: reply, Success: true})
}
