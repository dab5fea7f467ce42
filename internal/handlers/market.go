// internal/handlers/market.go
package handlers

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/javajoker/imi-market/internal/services"
	"github.com/javajoker/imi-market/internal/utils"
)

type MarketHandler struct {
	marketService *services.MarketService
}

func NewMarketHandler(marketService *services.MarketService) *MarketHandler {
	return &MarketHandler{marketService: marketService}
}

func listingID(c *gin.Context) (common.Hash, bool) {
	id, err := services.ParseHash("market.listing_id", c.Param("id"))
	if err != nil {
		utils.HandleError(c, err)
		return common.Hash{}, false
	}
	return id, true
}

// GET /market
func (h *MarketHandler) Status(c *gin.Context) {
	utils.SuccessResponse(c, h.marketService.Status())
}

// POST /market/listings
func (h *MarketHandler) CreateListing(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req services.CreateListingRequest
	if !bindJSON(c, &req) {
		return
	}
	listing, err := h.marketService.CreateListing(p, &req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.CreatedResponse(c, listing)
}

// GET /market/listings/:id
func (h *MarketHandler) GetListing(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	listing, err := h.marketService.GetListing(id)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, listing)
}

// DELETE /market/listings/:id
func (h *MarketHandler) CancelListing(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := listingID(c)
	if !ok {
		return
	}
	if err := h.marketService.CancelListing(p, id); err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"listing_id": id, "cancelled": true})
}

// POST /market/listings/:id/buy
func (h *MarketHandler) BuyListing(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := listingID(c)
	if !ok {
		return
	}
	var req services.BuyListingRequest
	if !bindJSON(c, &req) {
		return
	}
	st, err := h.marketService.BuyListing(p, id, &req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, st)
}

// POST /market/offers
func (h *MarketHandler) CreateOffer(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req services.CreateOfferRequest
	if !bindJSON(c, &req) {
		return
	}
	offer, err := h.marketService.CreateOffer(p, &req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.CreatedResponse(c, offer)
}

// GET /market/offers?asset_kind=&asset_id=&units=
func (h *MarketHandler) ListOffers(c *gin.Context) {
	var req services.AssetRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		utils.BadRequestResponse(c, "", err.Error())
		return
	}
	offers, err := h.marketService.OffersFor(&req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, offers)
}

// GET /market/offers/:id
func (h *MarketHandler) GetOffer(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	offer, err := h.marketService.GetOffer(id)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, offer)
}

// DELETE /market/offers/:id
func (h *MarketHandler) CancelOffer(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	offer, err := h.marketService.CancelOffer(p, id)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, offer)
}

// POST /market/offers/:id/accept
func (h *MarketHandler) AcceptOffer(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	st, err := h.marketService.AcceptOffer(p, id)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, st)
}

// POST /market/pause
func (h *MarketHandler) Pause(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.marketService.Pause(p); err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, h.marketService.Status())
}

// POST /market/unpause
func (h *MarketHandler) Unpause(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.marketService.Unpause(p); err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, h.marketService.Status())
}
