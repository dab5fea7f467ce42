// internal/handlers/asset.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/imi-market/internal/services"
	"github.com/javajoker/imi-market/internal/utils"
)

type AssetHandler struct {
	assetService *services.AssetService
}

func NewAssetHandler(assetService *services.AssetService) *AssetHandler {
	return &AssetHandler{assetService: assetService}
}

// POST /assets
func (h *AssetHandler) Register(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req services.RegisterAssetRequest
	if !bindJSON(c, &req) {
		return
	}
	asset, err := h.assetService.Register(p, &req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.CreatedResponse(c, asset)
}

// GET /assets/:id
func (h *AssetHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.assetService.Get(id)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, view)
}
