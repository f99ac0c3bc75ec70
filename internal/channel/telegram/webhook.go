package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/clinicware/turnero/internal/conversation"
	"github.com/clinicware/turnero/pkg/logging"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBody = 1 << 20

// Dispatcher consumes inbound user messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, in conversation.Inbound) error
}

// WebhookHandler receives Bot API update callbacks. It always answers 200
// for well-formed updates, even when processing fails: a non-2xx makes
// Telegram redeliver the update and the dialogue would see duplicates.
type WebhookHandler struct {
	dispatcher Dispatcher
	secret     string
	logger     *logging.Logger
}

// NewWebhookHandler wires the handler. secret must match the secret_token
// registered with setWebhook; empty disables the check.
func NewWebhookHandler(dispatcher Dispatcher, secret string, logger *logging.Logger) *WebhookHandler {
	if dispatcher == nil {
		panic("telegram: dispatcher required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{dispatcher: dispatcher, secret: secret, logger: logger}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && r.Header.Get(secretTokenHeader) != h.secret {
		h.logger.Warn("webhook rejected: bad secret token", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var update Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBody)).Decode(&update); err != nil {
		h.logger.Warn("webhook rejected: malformed update", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	in, ok := toInbound(update)
	if !ok {
		// Edited messages, joins, stickers and the like are acknowledged
		// and dropped.
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), in); err != nil {
		h.logger.Error("update processing failed",
			"update_id", update.UpdateID, "user_id", in.UserID, "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

func toInbound(update Update) (conversation.Inbound, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return conversation.Inbound{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return conversation.Inbound{}, false
	}
	name := msg.From.FirstName
	if msg.From.LastName != "" {
		name = name + " " + msg.From.LastName
	}
	return conversation.Inbound{
		UserID:      strconv.FormatInt(msg.From.ID, 10),
		ChatID:      msg.Chat.ID,
		DisplayName: strings.TrimSpace(name),
		Text:        text,
	}, true
}
