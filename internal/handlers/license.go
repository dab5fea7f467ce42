// internal/handlers/license.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/imi-market/internal/services"
	"github.com/javajoker/imi-market/internal/utils"
)

type LicenseHandler struct {
	licenseService *services.LicenseService
	disputeService *services.DisputeService
}

func NewLicenseHandler(licenseService *services.LicenseService, disputeService *services.DisputeService) *LicenseHandler {
	return &LicenseHandler{
		licenseService: licenseService,
		disputeService: disputeService,
	}
}

// POST /licenses
func (h *LicenseHandler) Mint(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req services.MintLicenseRequest
	if !bindJSON(c, &req) {
		return
	}
	lic, err := h.licenseService.Mint(p, &req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.CreatedResponse(c, lic)
}

// GET /licenses/:id
func (h *LicenseHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.licenseService.Get(id)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, view)
}

// GET /licenses/:id/units/:address
func (h *LicenseHandler) UnitsHeld(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	holder, err := services.ParseAddress("license.units_held", c.Param("address"))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	units, err := h.licenseService.UnitsHeld(id, holder)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"license_id": id, "holder": holder, "units": units})
}

// POST /licenses/:id/expire
func (h *LicenseHandler) MarkExpired(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.licenseService.MarkExpired(id); err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"license_id": id, "expired": true})
}

// POST /licenses/expire
func (h *LicenseHandler) BatchMarkExpired(c *gin.Context) {
	var req services.BatchExpireRequest
	if !bindJSON(c, &req) {
		return
	}
	marked, err := h.licenseService.BatchMarkExpired(&req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"marked": marked})
}

// POST /licenses/:id/revoke
func (h *LicenseHandler) Revoke(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.licenseService.Revoke(p, id); err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"license_id": id, "revoked": true})
}

// POST /licenses/:id/revoke-missed
func (h *LicenseHandler) RevokeForMissedPayments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req services.RevokeMissedRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.licenseService.RevokeForMissedPayments(id, &req); err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"license_id": id, "revoked": true})
}

// PUT /licenses/:id/penalty-rate
func (h *LicenseHandler) SetPenaltyRate(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req services.PenaltyRateRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.licenseService.SetPenaltyRate(p, id, &req); err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"license_id": id, "penalty_rate_bps": req.Bps})
}

// GET /licenses/:id/payments
func (h *LicenseHandler) PaymentQuote(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	q, err := h.licenseService.PaymentQuote(id)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, q)
}

// POST /licenses/:id/payments
func (h *LicenseHandler) MakePayment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req services.PaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	st, err := h.licenseService.MakeRecurringPayment(p, id, &req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, st)
}

// POST /licenses/:id/payments/missed
func (h *LicenseHandler) RecordMissedPayments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	missed, err := h.licenseService.RecordMissedPayments(id)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"license_id": id, "missed_payments": missed})
}

// GET /licenses/:id/disputes
func (h *LicenseHandler) Disputes(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	disputes, err := h.disputeService.ForLicense(id)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, disputes)
}
