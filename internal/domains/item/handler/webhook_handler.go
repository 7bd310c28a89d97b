package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"bookresale-backend/internal/infrastructure/queue"
	"bookresale-backend/internal/shared"
	"bookresale-backend/internal/shared/response"
	"bookresale-backend/pkg/cache"
)

const maxWebhookBytes = 64 << 10

// saleEvent is the wire format marketplaces post when a listing sells.
type saleEvent struct {
	EventID   string          `json:"eventId"`
	OwnerID   string          `json:"ownerId"`
	ItemID    string          `json:"itemId"`
	ListingID string          `json:"listingId"`
	SalePrice decimal.Decimal `json:"salePrice"`
	SoldAt    time.Time       `json:"soldAt"`
}

// WebhookHandler receives marketplace sale notifications. Signature
// verification and replay dedupe happen here; the actual state change
// runs through the sale stage on the worker.
type WebhookHandler struct {
	publisher queue.Publisher
	dedupe    cache.Cache
	dedupeTTL time.Duration
	secretFor func(platform string) string
}

func NewWebhookHandler(publisher queue.Publisher, dedupe cache.Cache, dedupeTTL time.Duration, secretFor func(platform string) string) *WebhookHandler {
	return &WebhookHandler{
		publisher: publisher,
		dedupe:    dedupe,
		dedupeTTL: dedupeTTL,
		secretFor: secretFor,
	}
}

// HandleSale processes one sale notification.
// POST /webhooks/:platform/sale
func (h *WebhookHandler) HandleSale(c *gin.Context) {
	platform := c.Param("platform")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		response.BadRequest(c, "failed to read request body")
		return
	}

	secret := h.secretFor(platform)
	if secret == "" {
		log.Warn().Str("platform", platform).Msg("webhook from unconfigured platform rejected")
		response.Unauthorized(c, "unknown platform")
		return
	}
	if !validSignature(body, c.GetHeader("X-Signature"), secret) {
		log.Warn().Str("platform", platform).Msg("webhook signature mismatch")
		response.Unauthorized(c, "invalid signature")
		return
	}

	var event saleEvent
	if err := json.Unmarshal(body, &event); err != nil {
		response.BadRequest(c, "malformed sale event")
		return
	}
	if event.EventID == "" || event.OwnerID == "" || event.ItemID == "" {
		response.BadRequest(c, "eventId, ownerId and itemId are required")
		return
	}

	// Marketplaces redeliver webhooks; only the first copy of an event
	// gets to enqueue the sale.
	first, err := h.dedupe.SetNX(c.Request.Context(), "webhook:"+platform+":"+event.EventID, 1, h.dedupeTTL)
	if err != nil {
		// Dedupe being down should not drop a sale; the sale gate
		// catches duplicates anyway.
		log.Error().Err(err).Str("platform", platform).Msg("webhook dedupe unavailable")
	} else if !first {
		log.Info().
			Str("platform", platform).
			Str("event_id", event.EventID).
			Msg("duplicate webhook ignored")
		response.Success(c, http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	soldAt := event.SoldAt
	if soldAt.IsZero() {
		soldAt = time.Now().UTC()
	}

	err = h.publisher.Publish(c.Request.Context(), queue.Message{
		Type:  shared.TypeRecordSale,
		Queue: shared.QueueHigh,
		Payload: shared.SalePayload{
			OwnerID:   event.OwnerID,
			ItemID:    event.ItemID,
			Platform:  platform,
			ListingID: event.ListingID,
			SalePrice: event.SalePrice,
			SoldAt:    soldAt,
		},
	})
	if err != nil {
		log.Error().Err(err).Str("platform", platform).Str("event_id", event.EventID).Msg("failed to enqueue sale")
		response.InternalServerError(c, "failed to accept sale event")
		return
	}

	log.Info().
		Str("platform", platform).
		Str("event_id", event.EventID).
		Str("item_id", event.ItemID).
		Msg("sale event accepted")
	response.Success(c, http.StatusAccepted, gin.H{"status": "accepted"})
}

func validSignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
