package ledger

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openrelief/reliefd/internal/idgen"
	"github.com/openrelief/reliefd/internal/logging"
	"github.com/openrelief/reliefd/internal/validation"
)

// Handler exposes ledger HTTP endpoints.
type Handler struct {
	store Store
}

// NewHandler creates a ledger HTTP handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers public transparency routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/campaigns", h.ListCampaigns)
	rg.GET("/campaigns/:id", h.GetCampaign)
	rg.GET("/campaigns/:id/stats", h.GetCampaignStats)
	rg.GET("/campaigns/:id/allocations", h.ListAllocations)
	rg.GET("/transactions", h.ListTransactions)
	rg.GET("/transactions/:id", h.GetTransaction)
	rg.GET("/merchants", h.ListMerchants)
}

// RegisterAdminRoutes registers campaign and beneficiary management routes.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/campaigns", h.CreateCampaign)
	rg.POST("/campaigns/:id/status", h.SetCampaignStatus)
	rg.POST("/beneficiaries", h.CreateBeneficiary)
	rg.GET("/beneficiaries", h.ListBeneficiaries)
	rg.GET("/beneficiaries/:id", h.GetBeneficiary)
	rg.POST("/beneficiaries/:id/verify", h.SetVerification)
	rg.POST("/beneficiaries/:id/wallet", h.SetPrimaryWallet)
	rg.GET("/flags", h.ListFlagged)
	rg.POST("/transactions/:id/clear-flag", h.ClearFlag)
}

func limitQuery(c *gin.Context, def, max int) int {
	limit := def
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			limit = n
		}
	}
	return limit
}

// CreateCampaign handles POST /campaigns
func (h *Handler) CreateCampaign(c *gin.Context) {
	var req struct {
		Name         string `json:"name" binding:"required"`
		Description  string `json:"description"`
		Region       string `json:"region"`
		TargetAmount string `json:"targetAmount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if !validation.IsValidAmount(req.TargetAmount) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "targetAmount must be a positive decimal with at most 6 places",
		})
		return
	}

	now := time.Now().UTC()
	campaign := &Campaign{
		ID:                idgen.WithPrefix("camp_"),
		Name:              validation.SanitizeString(req.Name, 200),
		Description:       validation.SanitizeString(req.Description, validation.MaxStringLength),
		Region:            validation.SanitizeString(req.Region, 100),
		TargetAmount:      req.TargetAmount,
		RaisedAmount:      "0.000000",
		DistributedAmount: "0.000000",
		SpentAmount:       "0.000000",
		Status:            CampaignDraft,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := h.store.CreateCampaign(c.Request.Context(), campaign); err != nil {
		logging.L(c.Request.Context()).Error("create campaign", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create campaign"})
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

// GetCampaign handles GET /campaigns/:id
func (h *Handler) GetCampaign(c *gin.Context) {
	campaign, err := h.store.GetCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrCampaignNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "campaign_not_found", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, campaign)
}

// ListCampaigns handles GET /campaigns?status=active&limit=50
func (h *Handler) ListCampaigns(c *gin.Context) {
	campaigns, err := h.store.ListCampaigns(c.Request.Context(),
		CampaignStatus(c.Query("status")), limitQuery(c, 50, 200))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns, "count": len(campaigns)})
}

// SetCampaignStatus handles POST /campaigns/:id/status
func (h *Handler) SetCampaignStatus(c *gin.Context) {
	var req struct {
		Status CampaignStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	campaign, err := h.store.SetCampaignStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		switch {
		case errors.Is(err, ErrCampaignNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "campaign_not_found", "message": err.Error()})
		case errors.Is(err, ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, campaign)
}

// GetCampaignStats handles GET /campaigns/:id/stats
func (h *Handler) GetCampaignStats(c *gin.Context) {
	stats, err := h.store.GetCampaignStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrCampaignNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "campaign_not_found", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListAllocations handles GET /campaigns/:id/allocations
func (h *Handler) ListAllocations(c *gin.Context) {
	allocations, err := h.store.ListAllocations(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocations": allocations, "count": len(allocations)})
}

// ListTransactions handles GET /transactions with optional filters.
func (h *Handler) ListTransactions(c *gin.Context) {
	filter := TransactionFilter{
		CampaignID:    c.Query("campaignId"),
		BeneficiaryID: c.Query("beneficiaryId"),
		Type:          TxType(c.Query("type")),
		FlaggedOnly:   c.Query("flagged") == "true",
		Limit:         limitQuery(c, 50, 500),
	}
	rows, err := h.store.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": rows, "count": len(rows)})
}

// GetTransaction handles GET /transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	row, err := h.store.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction_not_found", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, row)
}

// ListMerchants handles GET /merchants
func (h *Handler) ListMerchants(c *gin.Context) {
	merchants, err := h.store.ListMerchants(c.Request.Context(), limitQuery(c, 100, 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchants": merchants, "count": len(merchants)})
}

// CreateBeneficiary handles POST /beneficiaries
func (h *Handler) CreateBeneficiary(c *gin.Context) {
	var req struct {
		Name   string `json:"name" binding:"required"`
		Region string `json:"region"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	now := time.Now().UTC()
	b := &Beneficiary{
		ID:        idgen.WithPrefix("ben_"),
		Name:      validation.SanitizeString(req.Name, 200),
		Region:    validation.SanitizeString(req.Region, 100),
		Status:    VerificationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateBeneficiary(c.Request.Context(), b); err != nil {
		logging.L(c.Request.Context()).Error("create beneficiary", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create beneficiary"})
		return
	}
	c.JSON(http.StatusCreated, b)
}

// GetBeneficiary handles GET /beneficiaries/:id
func (h *Handler) GetBeneficiary(c *gin.Context) {
	b, err := h.store.GetBeneficiary(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrBeneficiaryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "beneficiary_not_found", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, b)
}

// ListBeneficiaries handles GET /beneficiaries?status=pending
func (h *Handler) ListBeneficiaries(c *gin.Context) {
	rows, err := h.store.ListBeneficiaries(c.Request.Context(),
		VerificationStatus(c.Query("status")), limitQuery(c, 50, 200))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"beneficiaries": rows, "count": len(rows)})
}

// SetVerification handles POST /beneficiaries/:id/verify
func (h *Handler) SetVerification(c *gin.Context) {
	var req struct {
		Status VerificationStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	switch req.Status {
	case VerificationPending, VerificationVerified, VerificationRejected:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_status",
			"message": "status must be pending, verified, or rejected",
		})
		return
	}

	b, err := h.store.SetVerification(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		if errors.Is(err, ErrBeneficiaryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "beneficiary_not_found", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, b)
}

// SetPrimaryWallet handles POST /beneficiaries/:id/wallet
func (h *Handler) SetPrimaryWallet(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if !validation.IsValidEthAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
		})
		return
	}

	ctx := c.Request.Context()
	b, err := h.store.SetPrimaryWallet(ctx, c.Param("id"), req.Address)
	if err != nil {
		if errors.Is(err, ErrBeneficiaryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "beneficiary_not_found", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	// Track the wallet for the whitelist cache; it gets whitelisted lazily on
	// the first distribution.
	if err := h.store.UpsertWallet(ctx, &Wallet{
		Address:       req.Address,
		BeneficiaryID: b.ID,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		logging.L(ctx).Warn("upsert wallet cache", "address", req.Address, "error", err)
	}
	c.JSON(http.StatusOK, b)
}

// ListFlagged handles GET /flags
func (h *Handler) ListFlagged(c *gin.Context) {
	rows, err := h.store.ListTransactions(c.Request.Context(), TransactionFilter{
		CampaignID:  c.Query("campaignId"),
		FlaggedOnly: true,
		Limit:       limitQuery(c, 50, 500),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flagged": rows, "count": len(rows)})
}

// ClearFlag handles POST /transactions/:id/clear-flag
func (h *Handler) ClearFlag(c *gin.Context) {
	var req struct {
		Note string `json:"note"`
	}
	_ = c.ShouldBindJSON(&req)

	row, err := h.store.ClearFlag(c.Request.Context(), c.Param("id"),
		validation.SanitizeString(req.Note, 500))
	if err != nil {
		switch {
		case errors.Is(err, ErrTransactionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction_not_found", "message": err.Error()})
		case errors.Is(err, ErrNotFlagged):
			c.JSON(http.StatusConflict, gin.H{"error": "not_flagged", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, row)
}
