package distribution

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openrelief/reliefd/internal/anomaly"
	"github.com/openrelief/reliefd/internal/drusd"
	"github.com/openrelief/reliefd/internal/ledger"
	"github.com/openrelief/reliefd/internal/realtime"
)

// Handler exposes fund-movement HTTP endpoints.
type Handler struct {
	orchestrator *Orchestrator
	hub          *realtime.Hub
}

// NewHandler creates a distribution HTTP handler.
func NewHandler(o *Orchestrator) *Handler {
	return &Handler{orchestrator: o}
}

// WithEvents returns a handler that pushes movements to the realtime hub.
func (h *Handler) WithEvents(hub *realtime.Hub) *Handler {
	h.hub = hub
	return h
}

// RegisterRoutes registers public risk/transparency routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/campaigns/:id/beneficiaries/:beneficiaryId/risk", h.AssessRisk)
}

// RegisterAdminRoutes registers fund-movement routes.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/distributions", h.Distribute)
	rg.POST("/campaigns/:id/mint", h.Mint)
	rg.POST("/spends", h.RecordSpend)
	rg.POST("/merchants", h.RegisterMerchant)
	rg.POST("/anomaly/train", h.Train)
}

func amountFloat(s string) float64 {
	v, ok := drusd.Parse(s)
	if !ok {
		return 0
	}
	return drusd.ToFloat(v)
}

// writeOrchestratorError maps orchestrator sentinel errors to HTTP statuses.
func writeOrchestratorError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		status, code = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ErrInvalidCategory):
		status, code = http.StatusBadRequest, "invalid_category"
	case errors.Is(err, ErrAllowanceExceedsAmount):
		status, code = http.StatusBadRequest, "allowances_exceed_amount"
	case errors.Is(err, ErrCampaignNotActive), errors.Is(err, ErrCampaignClosed):
		status, code = http.StatusConflict, "campaign_not_active"
	case errors.Is(err, ErrBeneficiaryNotVerified):
		status, code = http.StatusConflict, "beneficiary_not_verified"
	case errors.Is(err, ErrNoWallet):
		status, code = http.StatusConflict, "no_primary_wallet"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status, code = http.StatusConflict, "insufficient_funds"
	case errors.Is(err, ledger.ErrCampaignNotFound):
		status, code = http.StatusNotFound, "campaign_not_found"
	case errors.Is(err, ledger.ErrBeneficiaryNotFound):
		status, code = http.StatusNotFound, "beneficiary_not_found"
	case errors.Is(err, ledger.ErrAllocationNotFound):
		status, code = http.StatusNotFound, "allocation_not_found"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// Distribute handles POST /distributions
func (h *Handler) Distribute(c *gin.Context) {
	var req DistributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	receipt, err := h.orchestrator.Distribute(c.Request.Context(), req)
	if err != nil {
		writeOrchestratorError(c, err)
		return
	}

	if h.hub != nil {
		h.hub.BroadcastDistribution(map[string]interface{}{
			"campaignId":    receipt.Allocation.CampaignID,
			"beneficiaryId": receipt.Allocation.BeneficiaryID,
			"amount":        amountFloat(receipt.Transaction.Amount),
			"txHash":        receipt.TransferTxHash,
		})
	}
	c.JSON(http.StatusCreated, receipt)
}

// Mint handles POST /campaigns/:id/mint
func (h *Handler) Mint(c *gin.Context) {
	var req struct {
		Amount  string `json:"amount" binding:"required"`
		Purpose string `json:"purpose"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	campaign, txLog, err := h.orchestrator.MintFunds(c.Request.Context(), c.Param("id"), req.Amount, req.Purpose)
	if err != nil {
		writeOrchestratorError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"campaign": campaign, "transaction": txLog})
}

// RecordSpend handles POST /spends
func (h *Handler) RecordSpend(c *gin.Context) {
	var req SpendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	txLog, err := h.orchestrator.RecordSpend(c.Request.Context(), req)
	if err != nil {
		writeOrchestratorError(c, err)
		return
	}

	if h.hub != nil {
		h.hub.BroadcastSpend(map[string]interface{}{
			"campaignId":    txLog.CampaignID,
			"beneficiaryId": txLog.BeneficiaryID,
			"amount":        amountFloat(txLog.Amount),
			"category":      txLog.Category,
		})
		if txLog.IsFlagged {
			h.hub.BroadcastFlag(map[string]interface{}{
				"campaignId":    txLog.CampaignID,
				"beneficiaryId": txLog.BeneficiaryID,
				"transactionId": txLog.ID,
				"reason":        txLog.FlagReason,
				"score":         txLog.FraudScore,
			})
		}
	}
	c.JSON(http.StatusCreated, txLog)
}

// RegisterMerchant handles POST /merchants
func (h *Handler) RegisterMerchant(c *gin.Context) {
	var req RegisterMerchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	merchant, err := h.orchestrator.RegisterMerchant(c.Request.Context(), req)
	if err != nil {
		writeOrchestratorError(c, err)
		return
	}
	c.JSON(http.StatusCreated, merchant)
}

// AssessRisk handles GET /campaigns/:id/beneficiaries/:beneficiaryId/risk
func (h *Handler) AssessRisk(c *gin.Context) {
	report, err := h.orchestrator.AssessRisk(c.Request.Context(), c.Param("id"), c.Param("beneficiaryId"))
	if err != nil {
		writeOrchestratorError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Train handles POST /anomaly/train
func (h *Handler) Train(c *gin.Context) {
	if err := h.orchestrator.TrainDetector(c.Request.Context()); err != nil {
		if errors.Is(err, anomaly.ErrInsufficientData) {
			c.JSON(http.StatusConflict, gin.H{"error": "insufficient_data", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trained": true})
}
