package donations

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openrelief/reliefd/internal/ledger"
	"github.com/openrelief/reliefd/internal/logging"
)

// WebhookVerifier checks a payment provider webhook's signature and
// extracts the event it carries.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) (eventType, intentID string, err error)
}

// Handler exposes donation HTTP endpoints.
type Handler struct {
	service  *Service
	verifier WebhookVerifier
}

// NewHandler creates a donations HTTP handler. verifier may be nil when
// card payments are disabled; the webhook route then rejects all deliveries.
func NewHandler(service *Service, verifier WebhookVerifier) *Handler {
	return &Handler{service: service, verifier: verifier}
}

// RegisterRoutes registers public donation routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/donations", h.Create)
	rg.GET("/donations/:id", h.Get)
	rg.GET("/campaigns/:id/donations", h.ListByCampaign)
}

// RegisterWebhookRoutes registers the payment provider callback.
func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/stripe", h.Webhook)
}

// Create handles POST /donations
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	donation, clientSecret, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		status, code := http.StatusInternalServerError, "internal_error"
		switch {
		case errors.Is(err, ErrInvalidAmount):
			status, code = http.StatusBadRequest, "invalid_amount"
		case errors.Is(err, ErrCampaignClosed):
			status, code = http.StatusConflict, "campaign_closed"
		case errors.Is(err, ledger.ErrCampaignNotFound):
			status, code = http.StatusNotFound, "campaign_not_found"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"donation":     donation,
		"clientSecret": clientSecret,
	})
}

// Get handles GET /donations/:id
func (h *Handler) Get(c *gin.Context) {
	donation, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrDonationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "donation_not_found",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, donation.PublicView())
}

// ListByCampaign handles GET /campaigns/:id/donations
func (h *Handler) ListByCampaign(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	campaignID := c.Param("id")
	rows, err := h.service.ListPublic(c.Request.Context(), campaignID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	count, total, err := h.service.CampaignTotal(c.Request.Context(), campaignID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"donations":    rows,
		"settledCount": count,
		"settledTotal": total,
	})
}

// Webhook handles POST /webhooks/stripe
func (h *Handler) Webhook(c *gin.Context) {
	if h.verifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "payments_disabled",
			"message": "no payment provider configured",
		})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "cannot read body"})
		return
	}

	eventType, intentID, err := h.verifier.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": err.Error()})
		return
	}

	if _, err := h.service.HandleWebhookEvent(c.Request.Context(), eventType, intentID); err != nil {
		if errors.Is(err, ErrDonationNotFound) {
			// Another environment's intent, or a test delivery. Acknowledge so
			// the provider stops redelivering.
			logging.L(c.Request.Context()).Warn("webhook for unknown payment intent",
				"event", eventType, "intent", intentID)
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
