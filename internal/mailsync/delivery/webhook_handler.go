package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"

	"agency-crm-backend/internal/mailsync/domain"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const maxPushBody = 1 << 20

// Dispatcher accepts a push delivery for background processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, token, accountHint string, body []byte) error
}

type WebhookHandler struct {
	dispatcher Dispatcher
}

func NewWebhookHandler(dispatcher Dispatcher) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher}
}

// POST /api/webhooks/gmail?token=...&account=...
// ReceiveGmailPush acknowledges every authorized delivery, including malformed
// ones, so Pub/Sub does not redeliver them.
func (h *WebhookHandler) ReceiveGmailPush(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody))
	if err != nil {
		log.Warn().Err(err).Msg("[Webhook] unable to read push body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	err = h.dispatcher.Dispatch(c.Request.Context(), c.Query("token"), c.Query("account"), body)
	if errors.Is(err, domain.ErrInvalidToken) {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid token"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
