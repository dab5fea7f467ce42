// internal/handlers/ledger.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/imi-market/internal/services"
	"github.com/javajoker/imi-market/internal/utils"
)

type LedgerHandler struct {
	ledgerService *services.LedgerService
}

func NewLedgerHandler(ledgerService *services.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledgerService: ledgerService}
}

// POST /ledger/splits/:assetId
func (h *LedgerHandler) ConfigureSplit(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	assetID, ok := pathID(c, "assetId")
	if !ok {
		return
	}
	var req services.ConfigureSplitRequest
	if !bindJSON(c, &req) {
		return
	}
	split, err := h.ledgerService.ConfigureSplit(p, assetID, &req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, split)
}

// GET /ledger/splits/:assetId
func (h *LedgerHandler) GetSplit(c *gin.Context) {
	assetID, ok := pathID(c, "assetId")
	if !ok {
		return
	}
	split, err := h.ledgerService.GetSplit(assetID)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, split)
}

// PUT /ledger/royalties/default
func (h *LedgerHandler) SetDefaultRoyalty(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req services.SetRoyaltyRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.ledgerService.SetDefaultRoyalty(p, &req); err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"bps": req.Bps})
}

// PUT /ledger/royalties/:assetId
func (h *LedgerHandler) SetAssetRoyalty(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	assetID, ok := pathID(c, "assetId")
	if !ok {
		return
	}
	var req services.SetRoyaltyRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.ledgerService.SetAssetRoyalty(p, assetID, &req); err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"asset_id": assetID, "bps": req.Bps})
}

// PUT /ledger/platform-fee
func (h *LedgerHandler) SetPlatformFee(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req services.SetRoyaltyRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.ledgerService.SetPlatformFee(p, &req); err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"bps": req.Bps})
}

// GET /ledger/royalty-info/:assetId?price=
func (h *LedgerHandler) RoyaltyInfo(c *gin.Context) {
	assetID, ok := pathID(c, "assetId")
	if !ok {
		return
	}
	info, err := h.ledgerService.RoyaltyInfo(assetID, c.Query("price"))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, info)
}

// GET /ledger/balances/:address
func (h *LedgerHandler) Balance(c *gin.Context) {
	addr, err := services.ParseAddress("ledger.balance", c.Param("address"))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, h.ledgerService.Balance(addr))
}

// POST /ledger/withdraw
func (h *LedgerHandler) Withdraw(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	rec, err := h.ledgerService.Withdraw(c.Request.Context(), p)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, rec)
}

// POST /ledger/deposits/intent
func (h *LedgerHandler) CreateDepositIntent(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req services.DepositIntentRequest
	if !bindJSON(c, &req) {
		return
	}
	intent, err := h.ledgerService.CreateDepositIntent(c.Request.Context(), p, &req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, intent)
}

// POST /ledger/deposits
func (h *LedgerHandler) ConfirmDeposit(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req services.ConfirmDepositRequest
	if !bindJSON(c, &req) {
		return
	}
	deposit, err := h.ledgerService.ConfirmDeposit(c.Request.Context(), p, &req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.CreatedResponse(c, deposit)
}

// POST /ledger/deposits/manual
func (h *LedgerHandler) ManualDeposit(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req services.ManualDepositRequest
	if !bindJSON(c, &req) {
		return
	}
	deposit, err := h.ledgerService.ManualDeposit(p, &req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.CreatedResponse(c, deposit)
}

// PUT /ledger/payout-account
func (h *LedgerHandler) SetPayoutAccount(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req services.SetPayoutAccountRequest
	if !bindJSON(c, &req) {
		return
	}
	account, err := h.ledgerService.SetPayoutAccount(c.Request.Context(), p, &req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, account)
}

// GET /ledger/payouts
func (h *LedgerHandler) Payouts(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	result, err := h.ledgerService.Payouts(c.Request.Context(), p, utils.GetPaginationParams(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.PaginatedResponse(c, result)
}
