package reconciliation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openrelief/reliefd/internal/ledger"
)

// Handler exposes reconciliation admin endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a reconciliation HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterAdminRoutes registers reconciliation routes.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/reconcile", h.Run)
	rg.GET("/campaigns/:id/beneficiaries/:beneficiaryId/balance", h.CheckBalance)
}

// Run handles POST /reconcile — an on-demand reconciliation pass.
func (h *Handler) Run(c *gin.Context) {
	report, err := h.service.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// CheckBalance handles GET /campaigns/:id/beneficiaries/:beneficiaryId/balance
func (h *Handler) CheckBalance(c *gin.Context) {
	result, err := h.service.CheckBeneficiary(c.Request.Context(), c.Param("id"), c.Param("beneficiaryId"))
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrBeneficiaryNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "beneficiary_not_found", "message": err.Error()})
		case errors.Is(err, ledger.ErrAllocationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "allocation_not_found", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}
