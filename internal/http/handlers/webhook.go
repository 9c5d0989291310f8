package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

// MessageHandler processes one inbound chat message and returns the
// replies to send back.
type MessageHandler interface {
	HandleMessage(ctx context.Context, chatID, message string) ([]string, error)
}

// WebhookHandler accepts inbound messages from the messaging sidecar.
type WebhookHandler struct {
	manager MessageHandler
	logger  *logging.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(manager MessageHandler, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{manager: manager, logger: logger}
}

type webhookRequest struct {
	Message    string `json:"message"`
	TelegramID string `json:"telegramId"`
}

type webhookResponse struct {
	Messages []string `json:"messages"`
}

const processingFailedReply = "Я не смог обработать сообщение. Попробуйте позже."

// HandleMessage is the POST /webhook endpoint: it runs the message
// through the session manager and returns the bot replies.
func (h *WebhookHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.TelegramID) == "" {
		http.Error(w, "telegramId is required", http.StatusBadRequest)
		return
	}

	replies, err := h.manager.HandleMessage(r.Context(), req.TelegramID, req.Message)
	if err != nil {
		// The sidecar retries on non-2xx, so reply with an apology instead.
		h.logger.Error("message handling failed", "chat_id", req.TelegramID, "error", err)
		replies = []string{processingFailedReply}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(webhookResponse{Messages: replies}); err != nil {
		h.logger.Error("response encoding failed", "chat_id", req.TelegramID, "error", err)
	}
}

// HealthCheck reports service liveness.
func (h *WebhookHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
